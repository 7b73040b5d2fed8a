package traffictiers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/utils/awsutils"
	"github.com/bwagner5/armada/pkg/utils/tagutils"
	"github.com/samber/lo"
)

const (
	// MemberPort is the backend port the tier forwards traffic to.
	MemberPort int32 = 80
	// ListenerPort terminates TLS at the tier edge.
	ListenerPort int32 = 443

	healthCheckPath = "/"
)

var ErrNotFound = errors.New("traffic tier not found")

// Watcher discovers and manages traffic tiers. A tier is an
// internet-facing application load balancer, a target group on the
// member port, and a TLS listener forwarding to it.
type Watcher struct {
	elbAPI SDKTrafficTierOps
}

type SDKTrafficTierOps interface {
	elbv2.DescribeLoadBalancersAPIClient
	elbv2.DescribeTargetGroupsAPIClient
	elbv2.DescribeListenersAPIClient
	CreateLoadBalancer(ctx context.Context, params *elbv2.CreateLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateLoadBalancerOutput, error)
	CreateTargetGroup(ctx context.Context, params *elbv2.CreateTargetGroupInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateTargetGroupOutput, error)
	CreateListener(ctx context.Context, params *elbv2.CreateListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateListenerOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
	DeleteListener(ctx context.Context, params *elbv2.DeleteListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteListenerOutput, error)
	DeleteLoadBalancer(ctx context.Context, params *elbv2.DeleteLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteLoadBalancerOutput, error)
	DeleteTargetGroup(ctx context.Context, params *elbv2.DeleteTargetGroupInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteTargetGroupOutput, error)
}

// TrafficTier is the resolved tier with the pieces callers need to
// wire fleets to it or tear it down.
type TrafficTier struct {
	elbv2types.LoadBalancer
	TargetGroupARN string
	ListenerARN    string
}

type CreateTrafficTierOpts struct {
	Name            string
	Namespace       string
	VPCID           string
	SubnetIDs       []string
	SecurityGroupID string
	CertificateARN  string
}

// MemberHealth is one fleet member as the tier sees it.
type MemberHealth struct {
	InstanceID string
	State      string
	Reason     string
}

func NewWatcher(elbAPI SDKTrafficTierOps) Watcher {
	return Watcher{
		elbAPI: elbAPI,
	}
}

func (t TrafficTier) DNS() string {
	return aws.ToString(t.DNSName)
}

func (t TrafficTier) SecurityGroupID() string {
	if len(t.SecurityGroups) == 0 {
		return ""
	}
	return t.SecurityGroups[0]
}

// ResourceName flattens namespace/name into an ELB-safe identifier.
// Load balancer and target group names cannot contain slashes.
func ResourceName(namespace string, name string) string {
	return strings.ReplaceAll(fmt.Sprintf("%s-%s", namespace, name), "/", "-")
}

// Get resolves an existing tier by its namespaced name.
func (w Watcher) Get(ctx context.Context, namespace string, name string) (*TrafficTier, error) {
	resourceName := ResourceName(namespace, name)
	lbOut, err := w.elbAPI.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		Names: []string{resourceName},
	})
	if err != nil {
		if awsutils.IsNotFoundErr(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(lbOut.LoadBalancers) == 0 {
		return nil, ErrNotFound
	}
	lb := lbOut.LoadBalancers[0]
	tier := &TrafficTier{LoadBalancer: lb}

	tgOut, err := w.elbAPI.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		LoadBalancerArn: lb.LoadBalancerArn,
	})
	if err != nil {
		return nil, err
	}
	if len(tgOut.TargetGroups) != 0 {
		tier.TargetGroupARN = aws.ToString(tgOut.TargetGroups[0].TargetGroupArn)
	}

	listenerOut, err := w.elbAPI.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		LoadBalancerArn: lb.LoadBalancerArn,
	})
	if err != nil {
		return nil, err
	}
	if len(listenerOut.Listeners) != 0 {
		tier.ListenerARN = aws.ToString(listenerOut.Listeners[0].ListenerArn)
	}
	return tier, nil
}

// Create provisions the tier. An existing tier with the same name is
// reused rather than treated as an error.
func (w Watcher) Create(ctx context.Context, opts CreateTrafficTierOpts) (*TrafficTier, error) {
	resourceName := ResourceName(opts.Namespace, opts.Name)
	tags := tagutils.ELBNamespacedTags(opts.Namespace, opts.Name)

	lbOut, err := w.elbAPI.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(resourceName),
		Type:           elbv2types.LoadBalancerTypeEnumApplication,
		Scheme:         elbv2types.LoadBalancerSchemeEnumInternetFacing,
		IpAddressType:  elbv2types.IpAddressTypeIpv4,
		Subnets:        opts.SubnetIDs,
		SecurityGroups: []string{opts.SecurityGroupID},
		Tags:           tags,
	})
	if err != nil {
		if awsutils.IsAlreadyExistsErr(err) {
			logging.FromContext(ctx).Debug("load balancer already exists, reusing", "name", resourceName)
			return w.ensureListener(ctx, opts)
		}
		return nil, fmt.Errorf("unable to create load balancer %s, %w", resourceName, err)
	}
	lb := lbOut.LoadBalancers[0]
	tier := &TrafficTier{LoadBalancer: lb}

	tgARN, err := w.ensureTargetGroup(ctx, resourceName, opts.VPCID, tags)
	if err != nil {
		return nil, err
	}
	tier.TargetGroupARN = tgARN

	listenerOut, err := w.elbAPI.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: lb.LoadBalancerArn,
		Port:            aws.Int32(ListenerPort),
		Protocol:        elbv2types.ProtocolEnumHttps,
		Certificates: []elbv2types.Certificate{
			{CertificateArn: aws.String(opts.CertificateARN)},
		},
		DefaultActions: []elbv2types.Action{
			{
				Type:           elbv2types.ActionTypeEnumForward,
				TargetGroupArn: aws.String(tgARN),
			},
		},
		Tags: tags,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create listener for %s, %w", resourceName, err)
	}
	tier.ListenerARN = aws.ToString(listenerOut.Listeners[0].ListenerArn)
	return tier, nil
}

// ensureListener completes a tier whose load balancer already existed,
// filling in the target group and listener if a previous create was
// interrupted before finishing.
func (w Watcher) ensureListener(ctx context.Context, opts CreateTrafficTierOpts) (*TrafficTier, error) {
	tier, err := w.Get(ctx, opts.Namespace, opts.Name)
	if err != nil {
		return nil, err
	}
	resourceName := ResourceName(opts.Namespace, opts.Name)
	tags := tagutils.ELBNamespacedTags(opts.Namespace, opts.Name)
	if tier.TargetGroupARN == "" {
		tgARN, err := w.ensureTargetGroup(ctx, resourceName, opts.VPCID, tags)
		if err != nil {
			return nil, err
		}
		tier.TargetGroupARN = tgARN
	}
	if tier.ListenerARN == "" {
		listenerOut, err := w.elbAPI.CreateListener(ctx, &elbv2.CreateListenerInput{
			LoadBalancerArn: tier.LoadBalancerArn,
			Port:            aws.Int32(ListenerPort),
			Protocol:        elbv2types.ProtocolEnumHttps,
			Certificates: []elbv2types.Certificate{
				{CertificateArn: aws.String(opts.CertificateARN)},
			},
			DefaultActions: []elbv2types.Action{
				{
					Type:           elbv2types.ActionTypeEnumForward,
					TargetGroupArn: aws.String(tier.TargetGroupARN),
				},
			},
			Tags: tags,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create listener for %s, %w", resourceName, err)
		}
		tier.ListenerARN = aws.ToString(listenerOut.Listeners[0].ListenerArn)
	}
	return tier, nil
}

func (w Watcher) ensureTargetGroup(ctx context.Context, resourceName string, vpcID string, tags []elbv2types.Tag) (string, error) {
	tgOut, err := w.elbAPI.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:            aws.String(resourceName),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            aws.Int32(MemberPort),
		VpcId:           aws.String(vpcID),
		TargetType:      elbv2types.TargetTypeEnumInstance,
		HealthCheckPath: aws.String(healthCheckPath),
		Tags:            tags,
	})
	if err != nil {
		if awsutils.IsAlreadyExistsErr(err) {
			existing, describeErr := w.elbAPI.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
				Names: []string{resourceName},
			})
			if describeErr != nil {
				return "", describeErr
			}
			return aws.ToString(existing.TargetGroups[0].TargetGroupArn), nil
		}
		return "", fmt.Errorf("unable to create target group %s, %w", resourceName, err)
	}
	return aws.ToString(tgOut.TargetGroups[0].TargetGroupArn), nil
}

// MemberHealth returns per-instance health as reported by the tier.
func (w Watcher) MemberHealth(ctx context.Context, targetGroupARN string) ([]MemberHealth, error) {
	out, err := w.elbAPI.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(targetGroupARN),
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(out.TargetHealthDescriptions, func(th elbv2types.TargetHealthDescription, _ int) MemberHealth {
		member := MemberHealth{}
		if th.Target != nil {
			member.InstanceID = aws.ToString(th.Target.Id)
		}
		if th.TargetHealth != nil {
			member.State = string(th.TargetHealth.State)
			member.Reason = aws.ToString(th.TargetHealth.Description)
		}
		return member
	}), nil
}

// Delete tears down the tier in dependency order. Listeners go first,
// then the load balancer, then the target group. Missing pieces are
// skipped so a partial teardown can be rerun.
func (w Watcher) Delete(ctx context.Context, namespace string, name string) error {
	tier, err := w.Get(ctx, namespace, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if tier.ListenerARN != "" {
		if _, err := w.elbAPI.DeleteListener(ctx, &elbv2.DeleteListenerInput{
			ListenerArn: aws.String(tier.ListenerARN),
		}); err != nil && !awsutils.IsNotFoundErr(err) {
			return fmt.Errorf("unable to delete listener, %w", err)
		}
	}
	if _, err := w.elbAPI.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: tier.LoadBalancerArn,
	}); err != nil && !awsutils.IsNotFoundErr(err) {
		return fmt.Errorf("unable to delete load balancer, %w", err)
	}
	if tier.TargetGroupARN != "" {
		if _, err := w.elbAPI.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
			TargetGroupArn: aws.String(tier.TargetGroupARN),
		}); err != nil && !awsutils.IsNotFoundErr(err) {
			return fmt.Errorf("unable to delete target group, %w", err)
		}
	}
	return nil
}

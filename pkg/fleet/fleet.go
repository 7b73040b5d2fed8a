// Package fleet orchestrates the full lifecycle of a self-healing compute
// fleet: the launch template generations, the capacity group that keeps
// members alive, the optional traffic tier in front of it, and the security
// boundary between the two.
package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/bwagner5/armada/pkg/boundary"
	"github.com/bwagner5/armada/pkg/bootstrap"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/plans"
	"github.com/bwagner5/armada/pkg/providers/amis"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
	"github.com/bwagner5/armada/pkg/providers/instances"
	"github.com/bwagner5/armada/pkg/providers/instancetypes"
	"github.com/bwagner5/armada/pkg/providers/launchtemplates"
	"github.com/bwagner5/armada/pkg/providers/securitygroups"
	"github.com/bwagner5/armada/pkg/providers/subnets"
	"github.com/bwagner5/armada/pkg/providers/traffictiers"
	"github.com/bwagner5/armada/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// defaultInstanceType is used when no instance type selectors are given.
const defaultInstanceType = "t3.micro"

type FleetI interface {
	Provision(context.Context, plans.ProvisionPlan) (plans.ProvisionPlan, error)
	TeardownPlan(context.Context, string, string) (plans.TeardownPlan, error)
	Teardown(context.Context, plans.TeardownPlan) (plans.TeardownPlan, error)
	StartRefresh(context.Context, string, string) (string, error)
	Members(context.Context, string, string) ([]instances.Instance, error)
}

type AWSFleet struct {
	awsCfg                *aws.Config
	subnetWatcher         subnets.Watcher
	securityGroupWatcher  securitygroups.Watcher
	amiWatcher            amis.Watcher
	instanceTypeWatcher   instancetypes.Watcher
	instanceWatcher       instances.Watcher
	launchTemplateWatcher launchtemplates.Watcher
	capacityGroupWatcher  capacitygroups.Watcher
	trafficTierWatcher    traffictiers.Watcher
}

func New(awsCfg *aws.Config) AWSFleet {
	ec2API := ec2.NewFromConfig(*awsCfg)
	ssmAPI := ssm.NewFromConfig(*awsCfg)
	asgAPI := autoscaling.NewFromConfig(*awsCfg)
	elbAPI := elbv2.NewFromConfig(*awsCfg)
	return AWSFleet{
		awsCfg:                awsCfg,
		subnetWatcher:         subnets.NewWatcher(ec2API),
		securityGroupWatcher:  securitygroups.NewWatcher(ec2API),
		amiWatcher:            amis.NewWatcher(ec2API, ssmAPI),
		instanceTypeWatcher:   instancetypes.NewWatcher(*awsCfg, ec2API),
		instanceWatcher:       instances.NewWatcher(ec2API),
		launchTemplateWatcher: launchtemplates.NewWatcher(ec2API),
		capacityGroupWatcher:  capacitygroups.NewWatcher(asgAPI),
		trafficTierWatcher:    traffictiers.NewWatcher(elbAPI),
	}
}

// CapacityGroups exposes the capacity group watcher so the refresh
// dispatcher can share the fleet's wiring.
func (f AWSFleet) CapacityGroups() capacitygroups.Watcher {
	return f.capacityGroupWatcher
}

// ResourceName is the namespaced identifier used for launch templates
// and capacity groups.
func ResourceName(namespace string, name string) string {
	return fmt.Sprintf("%s/%s", namespace, name)
}

// Provision converges the fleet towards the plan's spec. It is safe to
// rerun: existing resources are updated in place and a changed launch
// template produces a new default version rather than a replacement.
func (f AWSFleet) Provision(ctx context.Context, provisionPlan plans.ProvisionPlan) (plans.ProvisionPlan, error) {
	logging.FromContext(ctx).Debug("Executing Provision Plan")
	provisionPlan.Spec.Default()
	if err := provisionPlan.Spec.Validate(); err != nil {
		return provisionPlan, err
	}
	provisionPlan.Status = plans.ProvisionStatus{}

	logging.FromContext(ctx).Debug("Resolving AMIs")
	amiList, err := f.amiWatcher.Resolve(ctx, provisionPlan.Spec.AMISelectors)
	if err != nil {
		return provisionPlan, err
	}
	provisionPlan.Status.AMIs = amiList

	instanceType := defaultInstanceType
	var architectures []ec2types.ArchitectureType
	if provisionPlan.Spec.InstanceType != "" {
		instanceType = provisionPlan.Spec.InstanceType
	} else if len(provisionPlan.Spec.InstanceTypeSelectors) != 0 {
		logging.FromContext(ctx).Debug("Resolving Instance Types")
		instanceTypes, err := f.instanceTypeWatcher.Resolve(ctx, provisionPlan.Spec.InstanceTypeSelectors)
		if err != nil {
			return provisionPlan, err
		}
		if len(instanceTypes) == 0 {
			return provisionPlan, fmt.Errorf("no instance types matched the given selectors")
		}
		provisionPlan.Status.InstanceTypes = instanceTypes
		instanceType = string(instanceTypes[0].InstanceType)
		if instanceTypes[0].ProcessorInfo != nil {
			architectures = instanceTypes[0].ProcessorInfo.SupportedArchitectures
		}
	}
	if len(architectures) == 0 {
		architectures, err = f.instanceTypeWatcher.SupportedArchitectures(ctx, instanceType)
		if err != nil {
			return provisionPlan, err
		}
	}
	latestAMI, err := amis.LatestFor(amiList, architectures)
	if err != nil {
		return provisionPlan, err
	}

	logging.FromContext(ctx).Debug("Resolving Subnets")
	subnetList, err := f.subnetWatcher.Resolve(ctx, provisionPlan.Spec.SubnetSelectors)
	if err != nil {
		return provisionPlan, err
	}
	if len(subnetList) == 0 {
		return provisionPlan, fmt.Errorf("no subnets matched the given selectors")
	}
	provisionPlan.Status.Subnets = subnetList
	vpcID, err := subnets.CommonVPC(subnetList)
	if err != nil {
		return provisionPlan, err
	}

	payload := bootstrap.Build(ctx, provisionPlan.Spec.MonitoringConfig)

	logging.FromContext(ctx).Debug("Ensuring fleet security group")
	fleetSGID, err := f.ensureSecurityGroup(ctx, provisionPlan.Metadata.Namespace, provisionPlan.Metadata.Name, vpcID)
	if err != nil {
		return provisionPlan, err
	}
	provisionPlan.Status.FleetSecurityGroupID = fleetSGID

	var tierRef *boundary.TierRef
	if provisionPlan.Spec.Tier.Enabled {
		tier, tierSGID, err := f.provisionTier(ctx, provisionPlan, vpcID)
		if err != nil {
			return provisionPlan, err
		}
		provisionPlan.Status.Tier = tier
		provisionPlan.Status.TierSecurityGroupID = tierSGID
		tierRef = &boundary.TierRef{SecurityGroupID: tierSGID}
	}

	ingress := boundary.Resolve(tierRef, provisionPlan.Spec.FallbackIngressCIDR)
	if ingress.Defaulted {
		logging.FromContext(ctx).Warn("No ingress CIDR given and no traffic tier enabled, falling back to a broad private range",
			"cidr", ingress.CIDR)
	}
	provisionPlan.Status.Ingress = ingress

	logging.FromContext(ctx).Debug("Authorizing fleet ingress", "source", ingress.Source)
	if err := f.securityGroupWatcher.AuthorizeFleetIngress(ctx, fleetSGID, ingress); err != nil {
		return provisionPlan, err
	}

	fleetSGs, err := f.securityGroupWatcher.Resolve(ctx, []securitygroups.Selector{{ID: fleetSGID}})
	if err != nil {
		return provisionPlan, err
	}

	logging.FromContext(ctx).Debug("Ensuring launch template")
	launchTemplateID, launchTemplateVersion, err := f.launchTemplateWatcher.Ensure(ctx, provisionPlan.Metadata.Namespace, provisionPlan.Metadata.Name, launchtemplates.TemplateSpec{
		ImageID:        lo.FromPtr(latestAMI.ImageId),
		InstanceType:   instanceType,
		UserData:       payload.UserData(),
		SecurityGroups: fleetSGs,
	})
	if err != nil {
		return provisionPlan, err
	}
	provisionPlan.Status.LaunchTemplateID = launchTemplateID
	provisionPlan.Status.LaunchTemplateVersion = launchTemplateVersion

	capacityOpts := capacitygroups.CreateCapacityGroupOpts{
		Name:                  provisionPlan.Metadata.Name,
		Namespace:             provisionPlan.Metadata.Namespace,
		MinSize:               provisionPlan.Spec.MinSize,
		MaxSize:               provisionPlan.Spec.MaxSize,
		DesiredCapacity:       provisionPlan.Spec.DesiredCapacity,
		SubnetIDs:             subnets.IDs(subnetList),
		LaunchTemplateID:      launchTemplateID,
		LaunchTemplateVersion: launchTemplateVersion,
		HealthMode:            capacitygroups.HealthModeFor(provisionPlan.Spec.Tier.Enabled),
	}
	if provisionPlan.Status.Tier != nil {
		capacityOpts.TargetGroupARNs = []string{provisionPlan.Status.Tier.TargetGroupARN}
	}

	groupName := ResourceName(provisionPlan.Metadata.Namespace, provisionPlan.Metadata.Name)
	_, err = f.capacityGroupWatcher.Get(ctx, groupName)
	switch {
	case errors.Is(err, capacitygroups.ErrNotFound):
		logging.FromContext(ctx).Debug("Creating capacity group", "name", groupName)
		if err := f.capacityGroupWatcher.Create(ctx, capacityOpts); err != nil {
			return provisionPlan, err
		}
	case err != nil:
		return provisionPlan, err
	default:
		logging.FromContext(ctx).Debug("Updating capacity group", "name", groupName)
		if err := f.capacityGroupWatcher.Update(ctx, capacityOpts); err != nil {
			return provisionPlan, err
		}
	}

	capacityGroup, err := f.capacityGroupWatcher.Get(ctx, groupName)
	if err != nil {
		return provisionPlan, err
	}
	provisionPlan.Status.CapacityGroup = capacityGroup

	if provisionPlan.Status.Tier != nil {
		provisionPlan.Status.EffectiveAddress = provisionPlan.Status.Tier.DNS()
	} else {
		provisionPlan.Status.EffectiveAddress = provisionPlan.Spec.ExternalAddress
	}

	logging.FromContext(ctx).Debug("Completed Provision Plan Execution Successfully")
	return provisionPlan, nil
}

// provisionTier creates the tier security group and the tier itself.
func (f AWSFleet) provisionTier(ctx context.Context, provisionPlan plans.ProvisionPlan, vpcID string) (*traffictiers.TrafficTier, string, error) {
	tierName := fmt.Sprintf("%s-tier", provisionPlan.Metadata.Name)
	logging.FromContext(ctx).Debug("Ensuring traffic tier security group")
	tierSGID, err := f.ensureSecurityGroup(ctx, provisionPlan.Metadata.Namespace, tierName, vpcID)
	if err != nil {
		return nil, "", err
	}
	if err := f.securityGroupWatcher.AuthorizeTierIngress(ctx, tierSGID, traffictiers.ListenerPort); err != nil {
		return nil, "", err
	}

	logging.FromContext(ctx).Debug("Creating traffic tier")
	tier, err := f.trafficTierWatcher.Create(ctx, traffictiers.CreateTrafficTierOpts{
		Name:            provisionPlan.Metadata.Name,
		Namespace:       provisionPlan.Metadata.Namespace,
		VPCID:           vpcID,
		SubnetIDs:       subnets.IDs(provisionPlan.Status.Subnets),
		SecurityGroupID: tierSGID,
		CertificateARN:  provisionPlan.Spec.Tier.CertificateARN,
	})
	if err != nil {
		return nil, "", err
	}
	return tier, tierSGID, nil
}

// ensureSecurityGroup resolves a namespaced security group by tags or
// creates it when absent.
func (f AWSFleet) ensureSecurityGroup(ctx context.Context, namespace string, name string, vpcID string) (string, error) {
	securityGroups, err := f.securityGroupWatcher.Resolve(ctx, []securitygroups.Selector{{
		Tags: tagutils.NamespacedTags(namespace, name),
	}})
	if err != nil {
		return "", err
	}
	if len(securityGroups) != 0 {
		return lo.FromPtr(securityGroups[0].GroupId), nil
	}
	return f.securityGroupWatcher.CreateSecurityGroup(ctx, namespace, name, securitygroups.CreateSecurityGroupOpts{
		Name:  ResourceName(namespace, name),
		VPCID: vpcID,
	})
}

// StartRefresh triggers a rolling refresh of the fleet's capacity group.
// An empty refresh id with a nil error means a refresh was already running.
func (f AWSFleet) StartRefresh(ctx context.Context, namespace string, name string) (string, error) {
	return f.capacityGroupWatcher.StartRefresh(ctx, ResourceName(namespace, name))
}

// Members lists the fleet's current instances.
func (f AWSFleet) Members(ctx context.Context, namespace string, name string) ([]instances.Instance, error) {
	return f.instanceWatcher.Resolve(ctx, []instances.Selector{{
		Tags: tagutils.NamespacedTags(namespace, name),
	}})
}

// Status resolves the fleet's capacity group and, when present, its
// traffic tier.
func (f AWSFleet) Status(ctx context.Context, namespace string, name string) (*capacitygroups.CapacityGroup, *traffictiers.TrafficTier, error) {
	capacityGroup, err := f.capacityGroupWatcher.Get(ctx, ResourceName(namespace, name))
	if err != nil {
		return nil, nil, err
	}
	tier, err := f.trafficTierWatcher.Get(ctx, namespace, name)
	if err != nil {
		if errors.Is(err, traffictiers.ErrNotFound) {
			return capacityGroup, nil, nil
		}
		return capacityGroup, nil, err
	}
	return capacityGroup, tier, nil
}

// TeardownPlan constructs a plan of all resources that should be deleted.
// The TeardownPlan can be confirmed by the user and then passed to the Teardown func for actual deletion.
func (f AWSFleet) TeardownPlan(ctx context.Context, namespace string, name string) (plans.TeardownPlan, error) {
	return plans.TeardownPlan{
		Metadata: plans.TeardownMetadata{
			Namespace: namespace,
			Name:      name,
		},
		Spec:   plans.TeardownSpec{},
		Status: plans.TeardownStatus{},
	}, nil
}

// Teardown executes a TeardownPlan. It is idempotent by keeping track of
// deletions in the TeardownPlan.Status, and tolerates resources that are
// already gone so a partial teardown can be rerun.
func (f AWSFleet) Teardown(ctx context.Context, teardownPlan plans.TeardownPlan) (plans.TeardownPlan, error) {
	logging.FromContext(ctx).Debug("Executing Teardown Plan")
	namespace := teardownPlan.Metadata.Namespace
	name := teardownPlan.Metadata.Name
	groupName := ResourceName(namespace, name)

	logging.FromContext(ctx).Debug("Deleting capacity group...")
	if !teardownPlan.Status.CapacityGroups[groupName] {
		if err := f.capacityGroupWatcher.Delete(ctx, groupName); err != nil {
			return teardownPlan, err
		}
		if teardownPlan.Status.CapacityGroups == nil {
			teardownPlan.Status.CapacityGroups = map[string]bool{}
		}
		logging.FromContext(ctx).Debug("Deleted capacity group", "name", groupName)
		teardownPlan.Status.CapacityGroups[groupName] = true
	}

	logging.FromContext(ctx).Debug("Deleting traffic tier...")
	tierResource := traffictiers.ResourceName(namespace, name)
	if !teardownPlan.Status.TrafficTiers[tierResource] {
		if err := f.trafficTierWatcher.Delete(ctx, namespace, name); err != nil {
			return teardownPlan, err
		}
		if teardownPlan.Status.TrafficTiers == nil {
			teardownPlan.Status.TrafficTiers = map[string]bool{}
		}
		logging.FromContext(ctx).Debug("Deleted traffic tier", "name", tierResource)
		teardownPlan.Status.TrafficTiers[tierResource] = true
	}

	logging.FromContext(ctx).Debug("Deleting Launch Templates...")
	launchTemplates, err := f.launchTemplateWatcher.Resolve(ctx, []launchtemplates.Selector{{
		Tags: tagutils.NamespacedTags(namespace, name),
	}})
	if err != nil {
		return teardownPlan, err
	}
	for _, launchTemplate := range launchTemplates {
		launchTemplateID := lo.FromPtr(launchTemplate.LaunchTemplateId)
		if teardownPlan.Status.LaunchTemplates[launchTemplateID] {
			logging.FromContext(ctx).Debug("Already deleted launch template, skipping", "launch-template-id", launchTemplateID)
			continue
		}
		if err := f.launchTemplateWatcher.DeleteLaunchTemplate(ctx, launchTemplateID); err != nil {
			return teardownPlan, err
		}
		if teardownPlan.Status.LaunchTemplates == nil {
			teardownPlan.Status.LaunchTemplates = map[string]bool{}
		}
		logging.FromContext(ctx).Debug("Deleted Launch Template", "launch-template-id", launchTemplateID)
		teardownPlan.Status.LaunchTemplates[launchTemplateID] = true
	}

	logging.FromContext(ctx).Debug("Deleting Security Groups...")
	securityGroups, err := f.securityGroupWatcher.Resolve(ctx, []securitygroups.Selector{{
		Tags: map[string]string{"Namespace": namespace, "CreatedBy": "armada"},
	}})
	if err != nil {
		return teardownPlan, err
	}
	for _, securityGroup := range securityGroups {
		sgName := tagutils.EC2TagsToMap(securityGroup.Tags)["Name"]
		if sgName != name && sgName != fmt.Sprintf("%s-tier", name) {
			continue
		}
		sgID := lo.FromPtr(securityGroup.GroupId)
		if teardownPlan.Status.SecurityGroups[sgID] {
			logging.FromContext(ctx).Debug("Already deleted security group, skipping", "security-group-id", sgID)
			continue
		}
		if err := f.securityGroupWatcher.DeleteSecurityGroup(ctx, sgID); err != nil {
			return teardownPlan, err
		}
		if teardownPlan.Status.SecurityGroups == nil {
			teardownPlan.Status.SecurityGroups = map[string]bool{}
		}
		logging.FromContext(ctx).Debug("Deleted security group", "security-group-id", sgID)
		teardownPlan.Status.SecurityGroups[sgID] = true
	}

	logging.FromContext(ctx).Debug("Teardown Plan Completed Successfully")
	return teardownPlan, nil
}

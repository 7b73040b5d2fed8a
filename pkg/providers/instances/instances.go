package instances

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/armada/pkg/selectors"
	"github.com/bwagner5/armada/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// groupNameTag is the tag the Auto Scaling service stamps on every member it
// launches, which makes fleet membership resolvable without extra bookkeeping.
const groupNameTag = "aws:autoscaling:groupName"

// Watcher discovers fleet member instances based on selectors
type Watcher struct {
	instanceAPI SDKInstancesOps
}

// SDKInstancesOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKInstancesOps interface {
	ec2.DescribeInstancesAPIClient
}

// Selector is a struct that represents an instance selector
type Selector struct {
	Tags map[string]string
	ID   string
	// GroupName selects members of a capacity group
	GroupName string
	// State is one of: pending | running | shutting-down | terminated | stopping | stopped
	State string
}

// Instance represents an Amazon EC2 Instance
// This is not the AWS SDK Instance type, but a wrapper around it so that we can add additional data
type Instance struct {
	ec2types.Instance
}

// PrettyInstance is the tabular view of a fleet member.
type PrettyInstance struct {
	Name         string `table:"Name"`
	Status       string `table:"Status"`
	InstanceType string `table:"Instance-Type"`
	Zone         string `table:"Zone"`
	Age          string `table:"Age"`
	InstanceID   string `table:"ID"`
	AMI          string `table:"AMI,wide"`
	PrivateIP    string `table:"Private-IP,wide"`
}

func (i Instance) Name() string {
	return tagutils.EC2TagsToMap(i.Tags)["Name"]
}

func (i Instance) Namespace() string {
	return tagutils.EC2TagsToMap(i.Tags)["Namespace"]
}

func (i Instance) Prettify() PrettyInstance {
	return PrettyInstance{
		Name:         i.Name(),
		Status:       string(i.State.Name),
		InstanceType: string(i.InstanceType),
		Zone:         lo.FromPtr(i.Placement.AvailabilityZone),
		Age:          time.Since(lo.FromPtr(i.LaunchTime)).Round(time.Second).String(),
		InstanceID:   lo.FromPtr(i.InstanceId),
		AMI:          lo.FromPtr(i.ImageId),
		PrivateIP:    lo.FromPtr(i.PrivateIpAddress),
	}
}

// ParseSelectors parses a string of selectors into a slice of Selector structs
func ParseSelectors(selectorStr string) ([]Selector, error) {
	parsed, err := selectors.ParseSelectorsTokens(selectorStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse instance selectors: %w", err)
	}
	instanceSelectors := make([]Selector, 0, len(parsed))
	for _, selector := range parsed {
		instanceSelector := Selector{
			Tags: selector.Tags,
		}
		for k, v := range selector.KeyVals {
			switch k {
			case "id":
				instanceSelector.ID = v
			case "group":
				instanceSelector.GroupName = v
			default:
				return nil, fmt.Errorf("invalid instance selector key: %s", k)
			}
		}
		instanceSelectors = append(instanceSelectors, instanceSelector)
	}
	return instanceSelectors, nil
}

// NewWatcher creates a new Instance Watcher
func NewWatcher(instanceAPI SDKInstancesOps) Watcher {
	return Watcher{
		instanceAPI: instanceAPI,
	}
}

// Resolve returns a list of instances that match the provided selectors
// Multiple calls to EC2 may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]Instance, error) {
	var instances []Instance
	for _, filters := range filterSets(selectors) {
		pager := ec2.NewDescribeInstancesPaginator(w.instanceAPI, &ec2.DescribeInstancesInput{
			Filters: filters,
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe instances: %w", err)
			}
			instances = append(instances, lo.FlatMap(page.Reservations, func(sdkReservation ec2types.Reservation, _ int) []Instance {
				return lo.Map(sdkReservation.Instances, func(sdkInstance ec2types.Instance, _ int) Instance {
					return Instance{sdkInstance}
				})
			})...)
		}
	}
	return instances, nil
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
func filterSets(selectorList []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	idFilter := ec2types.Filter{Name: aws.String("instance-id")}
	for _, term := range selectorList {
		var filters []ec2types.Filter
		if term.ID != "" {
			idFilter.Values = append(idFilter.Values, term.ID)
			continue
		}
		if term.GroupName != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String(fmt.Sprintf("tag:%s", groupNameTag)),
				Values: []string{term.GroupName},
			})
		}
		if term.State != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("instance-state-name"),
				Values: []string{term.State},
			})
		}
		filters = append(filters, selectors.TagsToEC2Filters(term.Tags)...)
		filterResult = append(filterResult, filters)
	}
	if len(idFilter.Values) > 0 {
		filterResult = append(filterResult, []ec2types.Filter{idFilter})
	}
	return filterResult
}

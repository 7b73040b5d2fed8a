package capacitygroups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/utils/awsutils"
	"github.com/bwagner5/armada/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// Rolling refresh preferences. The warmup gives a fresh member time to finish
// its bootstrap before it counts as healthy; the floor percentage is raised,
// never lowered, by the group's live minimum capacity.
const (
	refreshInstanceWarmupSeconds = 300
	refreshMinHealthyFloor       = 90
	healthCheckGracePeriod       = 300
)

var ErrNotFound = errors.New("capacity group not found")

// ErrInvalidCapacityRange is returned before any resource is created when
// minSize <= desiredCapacity <= maxSize does not hold.
var ErrInvalidCapacityRange = errors.New("invalid capacity range")

// HealthMode is how the group decides a member's fitness. It is derived from
// the presence of a traffic tier, never set independently.
type HealthMode string

const (
	// HealthModeSelfReported trusts only the instance's own liveness.
	HealthModeSelfReported HealthMode = "EC2"
	// HealthModeEndpoint trusts the traffic tier's health checks.
	HealthModeEndpoint HealthMode = "ELB"
)

// HealthModeFor derives the health-check mode from the tier sum type.
func HealthModeFor(tierPresent bool) HealthMode {
	return lo.Ternary(tierPresent, HealthModeEndpoint, HealthModeSelfReported)
}

// Watcher manages Auto Scaling groups acting as fleet capacity groups
type Watcher struct {
	asgAPI SDKCapacityGroupOps
}

// SDKCapacityGroupOps is an interface that combines the necessary Auto Scaling SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKCapacityGroupOps interface {
	autoscaling.DescribeAutoScalingGroupsAPIClient
	CreateAutoScalingGroup(context.Context, *autoscaling.CreateAutoScalingGroupInput, ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error)
	UpdateAutoScalingGroup(context.Context, *autoscaling.UpdateAutoScalingGroupInput, ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
	DeleteAutoScalingGroup(context.Context, *autoscaling.DeleteAutoScalingGroupInput, ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error)
	StartInstanceRefresh(context.Context, *autoscaling.StartInstanceRefreshInput, ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error)
	DescribeInstanceRefreshes(context.Context, *autoscaling.DescribeInstanceRefreshesInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeInstanceRefreshesOutput, error)
}

// CapacityGroup represents an Auto Scaling group acting as a fleet capacity group
// This is not the AWS SDK AutoScalingGroup type, but a wrapper around it so that we can add additional data
type CapacityGroup struct {
	astypes.AutoScalingGroup
	LatestRefresh *astypes.InstanceRefresh
}

type CreateCapacityGroupOpts struct {
	Name                  string
	Namespace             string
	MinSize               int32
	MaxSize               int32
	DesiredCapacity       int32
	SubnetIDs             []string
	LaunchTemplateID      string
	LaunchTemplateVersion string
	TargetGroupARNs       []string
	HealthMode            HealthMode
}

// NewWatcher creates a new CapacityGroup Watcher
func NewWatcher(asgAPI SDKCapacityGroupOps) Watcher {
	return Watcher{
		asgAPI: asgAPI,
	}
}

// Get returns the capacity group by name along with its latest instance
// refresh, or ErrNotFound. Capacity values are always read live, never cached,
// since operators and scaling policies may adjust them at any time.
func (w Watcher) Get(ctx context.Context, name string) (*CapacityGroup, error) {
	out, err := w.asgAPI.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe capacity group %s: %w", name, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	group := CapacityGroup{AutoScalingGroup: out.AutoScalingGroups[0]}
	refreshOut, err := w.asgAPI.DescribeInstanceRefreshes(ctx, &autoscaling.DescribeInstanceRefreshesInput{
		AutoScalingGroupName: aws.String(name),
		MaxRecords:           aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance refreshes for %s: %w", name, err)
	}
	if len(refreshOut.InstanceRefreshes) != 0 {
		group.LatestRefresh = &refreshOut.InstanceRefreshes[0]
	}
	return &group, nil
}

// Create provisions the capacity group. The capacity range invariant is
// checked here as well as at plan validation so the group can never be created
// out of range through any path.
func (w Watcher) Create(ctx context.Context, opts CreateCapacityGroupOpts) error {
	if err := ValidateCapacity(opts.MinSize, opts.DesiredCapacity, opts.MaxSize); err != nil {
		return err
	}
	_, err := w.asgAPI.CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(opts.Name),
		MinSize:              aws.Int32(opts.MinSize),
		MaxSize:              aws.Int32(opts.MaxSize),
		DesiredCapacity:      aws.Int32(opts.DesiredCapacity),
		VPCZoneIdentifier:    aws.String(strings.Join(opts.SubnetIDs, ",")),
		LaunchTemplate: &astypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(opts.LaunchTemplateID),
			Version:          aws.String(opts.LaunchTemplateVersion),
		},
		TargetGroupARNs:        opts.TargetGroupARNs,
		HealthCheckType:        aws.String(string(opts.HealthMode)),
		HealthCheckGracePeriod: aws.Int32(healthCheckGracePeriod),
		Tags:                   tagutils.ASGNamespacedTags(opts.Namespace, opts.Name),
	})
	if err != nil {
		if awsutils.IsAlreadyExistsErr(err) {
			return nil
		}
		return fmt.Errorf("failed to create capacity group %s: %w", opts.Name, err)
	}
	return nil
}

// Update moves an existing group onto a new launch template generation and
// adjusts its size bounds. DesiredCapacity is deliberately left untouched: it
// is externally adjustable and overwriting it would fight operators and
// scaling policies.
func (w Watcher) Update(ctx context.Context, opts CreateCapacityGroupOpts) error {
	if err := ValidateCapacity(opts.MinSize, opts.DesiredCapacity, opts.MaxSize); err != nil {
		return err
	}
	_, err := w.asgAPI.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(opts.Name),
		MinSize:              aws.Int32(opts.MinSize),
		MaxSize:              aws.Int32(opts.MaxSize),
		LaunchTemplate: &astypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(opts.LaunchTemplateID),
			Version:          aws.String(opts.LaunchTemplateVersion),
		},
		HealthCheckType: aws.String(string(opts.HealthMode)),
	})
	if err != nil {
		return fmt.Errorf("failed to update capacity group %s: %w", opts.Name, err)
	}
	return nil
}

// StartRefresh begins a rolling replacement of all members from the current
// launch template generation. The group's live capacity values are polled at
// trigger time so a concurrently raised MinSize still holds as the floor. A
// refresh already in progress makes this a no-op rather than an error, which
// keeps duplicate dispatcher triggers harmless.
func (w Watcher) StartRefresh(ctx context.Context, name string) (string, error) {
	group, err := w.Get(ctx, name)
	if err != nil {
		return "", err
	}
	minHealthy := minHealthyPercentage(lo.FromPtr(group.MinSize), lo.FromPtr(group.DesiredCapacity))
	out, err := w.asgAPI.StartInstanceRefresh(ctx, &autoscaling.StartInstanceRefreshInput{
		AutoScalingGroupName: aws.String(name),
		Strategy:             astypes.RefreshStrategyRolling,
		Preferences: &astypes.RefreshPreferences{
			MinHealthyPercentage: aws.Int32(minHealthy),
			InstanceWarmup:       aws.Int32(refreshInstanceWarmupSeconds),
		},
	})
	if err != nil {
		var inProgress *astypes.InstanceRefreshInProgressFault
		if errors.As(err, &inProgress) || awsutils.IsRefreshInProgressErr(err) {
			logging.FromContext(ctx).Debug("refresh already in progress, skipping", "capacity-group", name)
			return "", nil
		}
		return "", fmt.Errorf("failed to start instance refresh for %s: %w", name, err)
	}
	return lo.FromPtr(out.InstanceRefreshId), nil
}

// Delete tears the group down forcefully so members mid-lifecycle cannot
// deadlock the teardown. A missing group is not an error.
func (w Watcher) Delete(ctx context.Context, name string) error {
	_, err := w.asgAPI.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		ForceDelete:          aws.Bool(true),
	})
	if err != nil && !awsutils.IsNotFoundErr(err) {
		return fmt.Errorf("failed to delete capacity group %s: %w", name, err)
	}
	return nil
}

// ValidateCapacity enforces minSize <= desiredCapacity <= maxSize.
func ValidateCapacity(minSize, desiredCapacity, maxSize int32) error {
	if minSize < 0 || minSize > desiredCapacity || desiredCapacity > maxSize {
		return fmt.Errorf("%w: require minSize (%d) <= desiredCapacity (%d) <= maxSize (%d)",
			ErrInvalidCapacityRange, minSize, desiredCapacity, maxSize)
	}
	return nil
}

// minHealthyPercentage converts the group's minimum size into the percentage
// floor a rolling refresh must respect, never dropping below the default
// floor. The service re-checks it at every replacement step.
func minHealthyPercentage(minSize, desiredCapacity int32) int32 {
	if desiredCapacity <= 0 {
		return refreshMinHealthyFloor
	}
	fromMin := (minSize*100 + desiredCapacity - 1) / desiredCapacity
	pct := max(fromMin, refreshMinHealthyFloor)
	return min(pct, 100)
}

package capacitygroups_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
)

type mockCapacityGroupAPI struct {
	describeAutoScalingGroupsFunc func(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	createAutoScalingGroupFunc    func(ctx context.Context, params *autoscaling.CreateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error)
	updateAutoScalingGroupFunc    func(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
	deleteAutoScalingGroupFunc    func(ctx context.Context, params *autoscaling.DeleteAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error)
	startInstanceRefreshFunc      func(ctx context.Context, params *autoscaling.StartInstanceRefreshInput, optFns ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error)
	describeInstanceRefreshesFunc func(ctx context.Context, params *autoscaling.DescribeInstanceRefreshesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeInstanceRefreshesOutput, error)
}

func (m *mockCapacityGroupAPI) DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return m.describeAutoScalingGroupsFunc(ctx, params, optFns...)
}

func (m *mockCapacityGroupAPI) CreateAutoScalingGroup(ctx context.Context, params *autoscaling.CreateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error) {
	return m.createAutoScalingGroupFunc(ctx, params, optFns...)
}

func (m *mockCapacityGroupAPI) UpdateAutoScalingGroup(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	return m.updateAutoScalingGroupFunc(ctx, params, optFns...)
}

func (m *mockCapacityGroupAPI) DeleteAutoScalingGroup(ctx context.Context, params *autoscaling.DeleteAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error) {
	return m.deleteAutoScalingGroupFunc(ctx, params, optFns...)
}

func (m *mockCapacityGroupAPI) StartInstanceRefresh(ctx context.Context, params *autoscaling.StartInstanceRefreshInput, optFns ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error) {
	return m.startInstanceRefreshFunc(ctx, params, optFns...)
}

func (m *mockCapacityGroupAPI) DescribeInstanceRefreshes(ctx context.Context, params *autoscaling.DescribeInstanceRefreshesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeInstanceRefreshesOutput, error) {
	return m.describeInstanceRefreshesFunc(ctx, params, optFns...)
}

func describeGroup(name string, minSize, desired, maxSize int32) func(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return func(_ context.Context, _ *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
		return &autoscaling.DescribeAutoScalingGroupsOutput{
			AutoScalingGroups: []astypes.AutoScalingGroup{{
				AutoScalingGroupName: aws.String(name),
				MinSize:              aws.Int32(minSize),
				DesiredCapacity:      aws.Int32(desired),
				MaxSize:              aws.Int32(maxSize),
			}},
		}, nil
	}
}

func noRefreshes(_ context.Context, _ *autoscaling.DescribeInstanceRefreshesInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeInstanceRefreshesOutput, error) {
	return &autoscaling.DescribeInstanceRefreshesOutput{}, nil
}

func TestHealthModeFor(t *testing.T) {
	type testCase struct {
		name        string
		tierPresent bool
		expected    capacitygroups.HealthMode
	}
	for _, tc := range []testCase{
		{name: "no tier trusts instance liveness", tierPresent: false, expected: capacitygroups.HealthModeSelfReported},
		{name: "tier delegates to endpoint checks", tierPresent: true, expected: capacitygroups.HealthModeEndpoint},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := capacitygroups.HealthModeFor(tc.tierPresent); got != tc.expected {
				t.Errorf("HealthModeFor(%v) = %q, want %q", tc.tierPresent, got, tc.expected)
			}
		})
	}
}

func TestValidateCapacity(t *testing.T) {
	type testCase struct {
		name                      string
		minSize, desired, maxSize int32
		expectErr                 bool
	}
	for _, tc := range []testCase{
		{name: "valid range", minSize: 1, desired: 2, maxSize: 3},
		{name: "all equal", minSize: 2, desired: 2, maxSize: 2},
		{name: "desired below min", minSize: 2, desired: 1, maxSize: 3, expectErr: true},
		{name: "desired above max", minSize: 1, desired: 4, maxSize: 3, expectErr: true},
		{name: "negative min", minSize: -1, desired: 0, maxSize: 1, expectErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := capacitygroups.ValidateCapacity(tc.minSize, tc.desired, tc.maxSize)
			if tc.expectErr {
				if !errors.Is(err, capacitygroups.ErrInvalidCapacityRange) {
					t.Fatalf("expected ErrInvalidCapacityRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMinHealthyPercentage(t *testing.T) {
	type testCase struct {
		minSize, desired int32
		expected         int32
	}
	for _, tc := range []testCase{
		// the default floor dominates small minimums
		{minSize: 1, desired: 2, expected: 90},
		{minSize: 2, desired: 5, expected: 90},
		// a minimum close to desired raises the floor
		{minSize: 19, desired: 20, expected: 95},
		{minSize: 5, desired: 5, expected: 100},
		// a minimum raised above desired mid-flight still clamps at 100
		{minSize: 7, desired: 5, expected: 100},
		// an empty group falls back to the default floor
		{minSize: 0, desired: 0, expected: 90},
	} {
		if got := capacitygroups.MinHealthyPercentage(tc.minSize, tc.desired); got != tc.expected {
			t.Errorf("minHealthyPercentage(%d, %d) = %d, want %d", tc.minSize, tc.desired, got, tc.expected)
		}
	}
}

func TestStartRefreshPollsLiveCapacity(t *testing.T) {
	mock := &mockCapacityGroupAPI{
		// the operator raised MinSize after creation; the floor must reflect it
		describeAutoScalingGroupsFunc: describeGroup("prod/web", 19, 20, 25),
		describeInstanceRefreshesFunc: noRefreshes,
		startInstanceRefreshFunc: func(_ context.Context, params *autoscaling.StartInstanceRefreshInput, _ ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error) {
			if params.Strategy != astypes.RefreshStrategyRolling {
				t.Errorf("Strategy = %s, want Rolling", params.Strategy)
			}
			if got := *params.Preferences.MinHealthyPercentage; got != 95 {
				t.Errorf("MinHealthyPercentage = %d, want 95", got)
			}
			if got := *params.Preferences.InstanceWarmup; got != 300 {
				t.Errorf("InstanceWarmup = %d, want 300", got)
			}
			return &autoscaling.StartInstanceRefreshOutput{InstanceRefreshId: aws.String("ir-123")}, nil
		},
	}
	refreshID, err := capacitygroups.NewWatcher(mock).StartRefresh(context.Background(), "prod/web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshID != "ir-123" {
		t.Errorf("refreshID = %s, want ir-123", refreshID)
	}
}

func TestStartRefreshIdempotentWhileInProgress(t *testing.T) {
	var calls int
	mock := &mockCapacityGroupAPI{
		describeAutoScalingGroupsFunc: describeGroup("prod/web", 2, 3, 5),
		describeInstanceRefreshesFunc: noRefreshes,
		startInstanceRefreshFunc: func(_ context.Context, _ *autoscaling.StartInstanceRefreshInput, _ ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error) {
			calls++
			if calls == 1 {
				return &autoscaling.StartInstanceRefreshOutput{InstanceRefreshId: aws.String("ir-123")}, nil
			}
			return nil, &astypes.InstanceRefreshInProgressFault{Message: aws.String("refresh ir-123 in progress")}
		},
	}
	watcher := capacitygroups.NewWatcher(mock)

	first, err := watcher.StartRefresh(context.Background(), "prod/web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "ir-123" {
		t.Errorf("refreshID = %s, want ir-123", first)
	}

	// a second trigger while the refresh runs is a no-op, not an error
	second, err := watcher.StartRefresh(context.Background(), "prod/web")
	if err != nil {
		t.Fatalf("expected in-progress trigger to be a no-op, got error: %v", err)
	}
	if second != "" {
		t.Errorf("expected no new refresh id, got %s", second)
	}
}

func TestStartRefreshNotFound(t *testing.T) {
	mock := &mockCapacityGroupAPI{
		describeAutoScalingGroupsFunc: func(_ context.Context, _ *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
			return &autoscaling.DescribeAutoScalingGroupsOutput{}, nil
		},
	}
	_, err := capacitygroups.NewWatcher(mock).StartRefresh(context.Background(), "prod/missing")
	if !errors.Is(err, capacitygroups.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsForceful(t *testing.T) {
	mock := &mockCapacityGroupAPI{
		deleteAutoScalingGroupFunc: func(_ context.Context, params *autoscaling.DeleteAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error) {
			if !*params.ForceDelete {
				t.Error("expected ForceDelete to be set")
			}
			return &autoscaling.DeleteAutoScalingGroupOutput{}, nil
		},
	}
	if err := capacitygroups.NewWatcher(mock).Delete(context.Background(), "prod/web"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

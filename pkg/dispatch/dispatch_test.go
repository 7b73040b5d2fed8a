package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwagner5/armada/pkg/dispatch"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
)

type mockFleetAPI struct {
	getFunc          func(ctx context.Context, name string) (*capacitygroups.CapacityGroup, error)
	startRefreshFunc func(ctx context.Context, name string) (string, error)
}

func (m *mockFleetAPI) Get(ctx context.Context, name string) (*capacitygroups.CapacityGroup, error) {
	return m.getFunc(ctx, name)
}

func (m *mockFleetAPI) StartRefresh(ctx context.Context, name string) (string, error) {
	return m.startRefreshFunc(ctx, name)
}

func healthyGet(_ context.Context, _ string) (*capacitygroups.CapacityGroup, error) {
	return &capacitygroups.CapacityGroup{}, nil
}

func TestNewValidation(t *testing.T) {
	api := &mockFleetAPI{}
	if _, err := dispatch.New(api, "", 30); err == nil {
		t.Error("expected error for empty group name")
	}
	if _, err := dispatch.New(api, "prod/web", 0); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := dispatch.New(api, "prod/web", -1); err == nil {
		t.Error("expected error for negative interval")
	}
	if _, err := dispatch.New(api, "prod/web", 30); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTickAbsorbsFailures(t *testing.T) {
	var attempts int
	api := &mockFleetAPI{
		getFunc: healthyGet,
		startRefreshFunc: func(_ context.Context, _ string) (string, error) {
			attempts++
			if attempts == 1 {
				return "", errors.New("throttled")
			}
			return "ir-456", nil
		},
	}
	dispatcher, err := dispatch.New(api, "prod/web", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a failing tick does not retry within itself and leaves the
	// dispatcher idle for the next tick
	dispatcher.Tick(context.Background())
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry within a tick)", attempts)
	}
	if dispatcher.State() != dispatch.StateIdle {
		t.Errorf("state = %s, want idle after failing tick", dispatcher.State())
	}

	// the next tick succeeds without any carryover
	dispatcher.Tick(context.Background())
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if dispatcher.State() != dispatch.StateIdle {
		t.Errorf("state = %s, want idle after successful tick", dispatcher.State())
	}
}

func TestTickTreatsInProgressAsSuccess(t *testing.T) {
	api := &mockFleetAPI{
		getFunc: healthyGet,
		startRefreshFunc: func(_ context.Context, _ string) (string, error) {
			return "", nil
		},
	}
	dispatcher, err := dispatch.New(api, "prod/web", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher.Tick(context.Background())
	if dispatcher.State() != dispatch.StateIdle {
		t.Errorf("state = %s, want idle", dispatcher.State())
	}
}

func TestTickSkipsMissingGroup(t *testing.T) {
	var refreshCalls int
	api := &mockFleetAPI{
		getFunc: func(_ context.Context, _ string) (*capacitygroups.CapacityGroup, error) {
			return nil, capacitygroups.ErrNotFound
		},
		startRefreshFunc: func(_ context.Context, _ string) (string, error) {
			refreshCalls++
			return "ir-789", nil
		},
	}
	dispatcher, err := dispatch.New(api, "prod/missing", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher.Tick(context.Background())
	if refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0 when the group is missing", refreshCalls)
	}
	if dispatcher.State() != dispatch.StateIdle {
		t.Errorf("state = %s, want idle", dispatcher.State())
	}
}

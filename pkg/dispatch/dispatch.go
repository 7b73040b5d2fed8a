// Package dispatch triggers rolling refreshes of a capacity group on a
// fixed cadence. A tick either starts a refresh or observes that one is
// already running. Failures are logged and absorbed since the next tick
// is the retry.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
)

type State string

const (
	StateIdle     State = "idle"
	StateInvoking State = "invoking"
)

// FleetAPI is the slice of the capacity group watcher the dispatcher
// needs.
type FleetAPI interface {
	Get(ctx context.Context, name string) (*capacitygroups.CapacityGroup, error)
	StartRefresh(ctx context.Context, name string) (string, error)
}

type Dispatcher struct {
	fleetAPI     FleetAPI
	groupName    string
	intervalDays int
	state        State
}

func New(fleetAPI FleetAPI, groupName string, intervalDays int) (*Dispatcher, error) {
	if groupName == "" {
		return nil, fmt.Errorf("a capacity group name is required")
	}
	if intervalDays <= 0 {
		return nil, fmt.Errorf("refresh interval days must be positive, got %d", intervalDays)
	}
	return &Dispatcher{
		fleetAPI:     fleetAPI,
		groupName:    groupName,
		intervalDays: intervalDays,
		state:        StateIdle,
	}, nil
}

func (d *Dispatcher) State() State {
	return d.state
}

// Tick triggers one refresh attempt. Errors are absorbed: a tick never
// retries within itself and the dispatcher always returns to idle.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.state = StateInvoking
	defer func() { d.state = StateIdle }()

	log := logging.FromContext(ctx)
	if _, err := d.fleetAPI.Get(ctx, d.groupName); err != nil {
		log.Error("unable to resolve capacity group, skipping refresh until next tick", "name", d.groupName, "error", err)
		return
	}
	refreshID, err := d.fleetAPI.StartRefresh(ctx, d.groupName)
	if err != nil {
		log.Error("unable to start refresh, will retry next tick", "name", d.groupName, "error", err)
		return
	}
	if refreshID == "" {
		log.Info("refresh already in progress", "name", d.groupName)
		return
	}
	log.Info("started refresh", "name", d.groupName, "refresh-id", refreshID)
}

// Run ticks on the configured cadence until the context is canceled.
// The first tick fires after a full interval, not at startup.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := time.Duration(d.intervalDays) * 24 * time.Hour
	logging.FromContext(ctx).Info("refresh dispatcher running", "name", d.groupName, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

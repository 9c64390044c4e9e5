package agent

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const DefaultPollingInterval = 2 * time.Second

// PortLister reports the port ids currently present on the host.
type PortLister interface {
	ListLocalPortIDs(ctx context.Context) (map[string]struct{}, error)
}

type LoopConfig struct {
	Reconciler      *Reconciler
	Ports           PortLister
	Controller      Controller
	AgentID         string
	PollingInterval time.Duration
	Clock           Clock
	Logger          zerolog.Logger
}

// Loop periodically diffs the local ports against the last known set and
// reconciles the delta. A failed cycle sets the resync flag, which makes the
// next cycle treat every observed port as newly added.
type Loop struct {
	reconciler *Reconciler
	ports      PortLister
	controller Controller
	agentID    string
	interval   time.Duration
	clock      Clock
	log        zerolog.Logger

	lastKnown map[string]struct{}
	resync    bool
}

func NewLoop(cfg LoopConfig) *Loop {
	interval := cfg.PollingInterval
	if interval <= 0 {
		interval = DefaultPollingInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Loop{
		reconciler: cfg.Reconciler,
		ports:      cfg.Ports,
		controller: cfg.Controller,
		agentID:    cfg.AgentID,
		interval:   interval,
		clock:      clock,
		log:        cfg.Logger,
		lastKnown:  make(map[string]struct{}),
		resync:     true,
	}
}

// Run polls until ctx is cancelled. Cancellation only interrupts the sleep
// between cycles; a running cycle completes. Cycle errors never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	cycleCtx := context.WithoutCancel(ctx)
	for {
		start := l.clock.Now()
		l.runCycle(cycleCtx)

		elapsed := l.clock.Now().Sub(start)
		if elapsed < l.interval {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(l.interval - elapsed):
			}
			continue
		}

		l.log.Debug().
			Dur("polling_interval", l.interval).
			Dur("elapsed", elapsed).
			Msg("loop iteration exceeded interval")
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Err(fmt.Errorf("%w: %v", ErrCyclePanic, r)).Msg("error in agent event loop")
			l.resync = true
		}
	}()

	if err := l.cycle(ctx); err != nil {
		l.log.Error().Err(err).Msg("error in agent event loop")
		l.resync = true
	}
}

func (l *Loop) cycle(ctx context.Context) error {
	if l.resync {
		l.log.Info().Msg("agent out of sync with controller")
		clear(l.lastKnown)
		l.resync = false
	}

	observed, err := l.ports.ListLocalPortIDs(ctx)
	if err != nil {
		return err
	}
	if maps.Equal(observed, l.lastKnown) {
		return nil
	}

	added, removed := lo.Difference(sortedKeys(observed), sortedKeys(l.lastKnown))
	l.log.Debug().Strs("added", added).Strs("removed", removed).Msg("agent loop has new devices")

	resyncAdded := l.treatDevicesAdded(ctx, added)
	resyncRemoved := l.treatDevicesRemoved(ctx, removed)
	if resyncAdded || resyncRemoved {
		l.resync = true
		return nil
	}

	l.lastKnown = maps.Clone(observed)
	return nil
}

// treatDevicesAdded reports whether any device failed and needs a resync.
func (l *Loop) treatDevicesAdded(ctx context.Context, devices []string) bool {
	resync := false
	for _, device := range devices {
		l.log.Info().Str("device", device).Msg("adding port")

		details, err := l.controller.GetDeviceDetails(ctx, device, l.agentID)
		if err != nil {
			l.log.Warn().Err(fmt.Errorf("%w: %w", ErrRemoteFetch, err)).Str("device", device).
				Msg("unable to get port details for device")
			resync = true
			continue
		}
		if details.PortID == "" {
			l.log.Debug().Str("device", device).Msg("device has no port on the controller")
			continue
		}

		l.log.Info().Str("device", device).Interface("details", details).Msg("port updated")
		if err := l.reconciler.TreatVifPort(ctx, details.VifPort()); err != nil {
			l.log.Warn().Err(err).Str("device", device).Msg("failed to reconcile port")
			resync = true
		}
	}
	return resync
}

func (l *Loop) treatDevicesRemoved(ctx context.Context, devices []string) bool {
	resync := false
	for _, device := range devices {
		l.log.Info().Str("device", device).Msg("removing port")

		if err := l.controller.UpdateDeviceDown(ctx, device, l.agentID); err != nil {
			l.log.Warn().Err(fmt.Errorf("%w: %w", ErrRemoteFetch, err)).Str("device", device).
				Msg("removing port failed for device")
			resync = true
			continue
		}
		if err := l.reconciler.Unbind(ctx, device); err != nil {
			l.log.Warn().Err(err).Str("device", device).Msg("failed to unbind port")
			resync = true
		}
	}
	return resync
}

func sortedKeys(set map[string]struct{}) []string {
	keys := lo.Keys(set)
	slices.Sort(keys)
	return keys
}

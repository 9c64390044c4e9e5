package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cybercoder/vswitch-agent/pkg/agent"
)

type handlerFunc func(ctx context.Context, args json.RawMessage) error

// Dispatcher routes notification envelopes to an agent.NotificationHandler
// through a fixed method table.
type Dispatcher struct {
	handlers map[string]handlerFunc
	log      zerolog.Logger
}

func NewDispatcher(h agent.NotificationHandler, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{log: log}
	d.handlers = map[string]handlerFunc{
		"network_delete": func(ctx context.Context, raw json.RawMessage) error {
			var args struct {
				NetworkID string `json:"network_id"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return err
			}
			return h.NetworkDelete(ctx, args.NetworkID)
		},
		"port_delete": func(ctx context.Context, raw json.RawMessage) error {
			var args struct {
				PortID string `json:"port_id"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return err
			}
			return h.PortDelete(ctx, args.PortID)
		},
		"port_update": func(ctx context.Context, raw json.RawMessage) error {
			var update agent.PortUpdate
			if err := decodeArgs(raw, &update); err != nil {
				return err
			}
			return h.PortUpdate(ctx, update)
		},
		// no tunnel types on this agent
		"tunnel_update": func(context.Context, json.RawMessage) error {
			d.log.Debug().Msg("tunnel_update received, ignoring")
			return nil
		},
	}
	return d
}

// Methods lists the methods the dispatcher accepts.
func (d *Dispatcher) Methods() []string {
	methods := lo.Keys(d.handlers)
	slices.Sort(methods)
	return methods
}

func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if !compatible(env.Version) {
		return fmt.Errorf("%w: %q (agent speaks %s)", ErrIncompatibleVersion, env.Version, APIVersion)
	}
	fn, ok := d.handlers[env.Method]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, env.Method)
	}
	return fn(ctx, env.Args)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode args: %w", err)
	}
	return nil
}

package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cybercoder/vswitch-agent/pkg/binding"
)

// VifPort is the desired state of one port as reported by the controller.
type VifPort struct {
	PortID          string
	NetworkID       string
	NetworkType     binding.NetworkType
	PhysicalNetwork string
	SegmentationID  *int
	AdminStateUp    bool
}

// Reconciler binds and unbinds ports. All exported methods are serialized
// on a single mutex so the polling loop and controller notifications never
// mutate the binding table concurrently.
type Reconciler struct {
	mu    sync.Mutex
	table *binding.Table
	hv    hypervisorOps
	log   zerolog.Logger
}

var _ NotificationHandler = (*Reconciler)(nil)

func NewReconciler(resolver binding.Resolver, localSwitch string, hv Hypervisor, log zerolog.Logger) *Reconciler {
	ops := hypervisorOps{hv: hv}
	return &Reconciler{
		table: binding.NewTable(resolver, localSwitch, ops, log),
		hv:    ops,
		log:   log,
	}
}

// TreatVifPort binds or unbinds a port according to its admin state. Ports
// that are not present on this host are ignored.
func (r *Reconciler) TreatVifPort(ctx context.Context, port VifPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.treatVifPort(ctx, port)
}

func (r *Reconciler) Bind(ctx context.Context, port VifPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bind(ctx, port)
}

func (r *Reconciler) Unbind(ctx context.Context, portID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbind(ctx, portID)
}

// NetworkDelete reclaims a network if this agent has provisioned it.
func (r *Reconciler) NetworkDelete(ctx context.Context, networkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Debug().Str("network_id", networkID).Msg("network_delete received")
	if _, ok := r.table.Get(networkID); !ok {
		r.log.Debug().Str("network_id", networkID).Msg("network not defined on agent")
		return nil
	}
	return r.table.Reclaim(ctx, networkID)
}

func (r *Reconciler) PortDelete(ctx context.Context, portID string) error {
	r.log.Debug().Str("port_id", portID).Msg("port_delete received")
	return r.Unbind(ctx, portID)
}

func (r *Reconciler) PortUpdate(ctx context.Context, update PortUpdate) error {
	r.log.Debug().Str("port_id", update.Port.ID).Msg("port_update received")
	return r.TreatVifPort(ctx, update.VifPort())
}

// Binding returns a copy of the binding for networkID.
func (r *Reconciler) Binding(networkID string) (binding.Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Get(networkID)
}

// NetworkIDs lists the networks currently provisioned on this host.
func (r *Reconciler) NetworkIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.NetworkIDs()
}

func (r *Reconciler) treatVifPort(ctx context.Context, port VifPort) error {
	exists, err := r.hv.PortExists(ctx, port.PortID)
	if err != nil {
		return err
	}
	if !exists {
		r.log.Debug().Str("port_id", port.PortID).Msg("no port defined on agent")
		return nil
	}
	if port.AdminStateUp {
		return r.bind(ctx, port)
	}
	return r.unbind(ctx, port.PortID)
}

func (r *Reconciler) bind(ctx context.Context, port VifPort) error {
	r.log.Debug().Str("port_id", port.PortID).Str("network_id", port.NetworkID).Msg("binding port")

	b, ok := r.table.Get(port.NetworkID)
	if !ok {
		var err error
		b, err = r.table.Provision(ctx, port.NetworkID, port.NetworkType, port.PhysicalNetwork, port.SegmentationID)
		if err != nil {
			return fmt.Errorf("failed to bind port %s: %w", port.PortID, err)
		}
	}

	if err := r.table.AddPort(port.NetworkID, port.PortID); err != nil {
		return err
	}

	if err := r.hv.AttachPort(ctx, b.SwitchName, port.PortID); err != nil {
		return err
	}

	switch port.NetworkType {
	case binding.TypeVLAN:
		if port.SegmentationID == nil {
			return fmt.Errorf("failed to tag port %s: %w", port.PortID, binding.ErrMissingSegmentationID)
		}
		r.log.Info().Int("vlan_id", *port.SegmentationID).Str("port_id", port.PortID).Msg("binding vlan id to switch port")
		return r.hv.TagVLANOnPort(ctx, *port.SegmentationID, port.PortID)
	case binding.TypeFlat, binding.TypeLocal:
	default:
		r.log.Error().Str("network_type", string(port.NetworkType)).Str("port_id", port.PortID).Msg("unsupported network type")
	}
	return nil
}

// unbind detaches a port and reclaims its network once the last port is
// gone. Reclaim errors are returned to the caller.
func (r *Reconciler) unbind(ctx context.Context, portID string) error {
	networkID, b, ok := r.table.LookupByPort(portID)
	if !ok {
		r.log.Info().Str("port_id", portID).Msg("port is not bound to any network on this agent")
		return nil
	}

	r.log.Debug().Str("port_id", portID).Str("network_id", networkID).Msg("unbinding port")
	if err := r.hv.DetachPort(ctx, b.SwitchName, portID, true); err != nil {
		return err
	}

	remaining, err := r.table.RemovePort(networkID, portID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return r.table.Reclaim(ctx, networkID)
	}
	return nil
}

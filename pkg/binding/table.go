package binding

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SwitchConfigurator applies switch-wide VLAN configuration on the host.
type SwitchConfigurator interface {
	TagVLANOnSwitch(ctx context.Context, vlanID int, switchName string) error
	UntagVLANOnSwitch(ctx context.Context, vlanID int, switchName string) error
	SetSwitchAccessMode(ctx context.Context, switchName string) error
}

// Resolver maps a physical network name to a vswitch name.
type Resolver interface {
	Resolve(physicalNetwork string) string
}

// Table maps network ids to their bindings. It is not safe for concurrent
// use; callers serialize every operation.
type Table struct {
	bindings    map[string]*Binding
	resolver    Resolver
	localSwitch string
	switches    SwitchConfigurator
	log         zerolog.Logger
}

func NewTable(resolver Resolver, localSwitch string, switches SwitchConfigurator, log zerolog.Logger) *Table {
	return &Table{
		bindings:    make(map[string]*Binding),
		resolver:    resolver,
		localSwitch: localSwitch,
		switches:    switches,
		log:         log,
	}
}

// SwitchName returns the vswitch carrying a network of the given type.
func (t *Table) SwitchName(networkType NetworkType, physicalNetwork string) string {
	if networkType == TypeLocal {
		return t.localSwitch
	}
	return t.resolver.Resolve(physicalNetwork)
}

// Provision configures the vswitch for a network and records an empty
// binding for it. Provisioning an already known network returns the
// existing binding untouched.
func (t *Table) Provision(ctx context.Context, networkID string, networkType NetworkType, physicalNetwork string, vlanID *int) (Binding, error) {
	if b, ok := t.bindings[networkID]; ok {
		return b.clone(), nil
	}
	if !networkType.Supported() {
		return Binding{}, fmt.Errorf("cannot provision network %s of type %q: %w", networkID, networkType, ErrUnsupportedNetworkType)
	}

	t.log.Info().Str("network_id", networkID).Str("network_type", string(networkType)).Msg("provisioning network")

	switchName := t.SwitchName(networkType, physicalNetwork)
	b := &Binding{
		NetworkID:   networkID,
		NetworkType: networkType,
		SwitchName:  switchName,
		Ports:       make(map[string]struct{}),
	}

	switch networkType {
	case TypeVLAN:
		if vlanID == nil {
			return Binding{}, fmt.Errorf("cannot provision network %s: %w", networkID, ErrMissingSegmentationID)
		}
		if err := t.switches.TagVLANOnSwitch(ctx, *vlanID, switchName); err != nil {
			return Binding{}, fmt.Errorf("failed to add vlan %d to switch %q: %w", *vlanID, switchName, err)
		}
		vlan := *vlanID
		b.VLANID = &vlan
	case TypeFlat:
		if err := t.switches.SetSwitchAccessMode(ctx, switchName); err != nil {
			return Binding{}, fmt.Errorf("failed to set switch %q to access mode: %w", switchName, err)
		}
	case TypeLocal:
		// The private switch is provisioned with the host; nothing to configure.
	}

	t.bindings[networkID] = b
	return b.clone(), nil
}

// Reclaim releases a VLAN network's tag from its vswitch and forgets the
// network. Flat and local networks cannot be reclaimed and stay in the
// table.
func (t *Table) Reclaim(ctx context.Context, networkID string) error {
	b, ok := t.bindings[networkID]
	if !ok {
		return fmt.Errorf("cannot reclaim network %s: %w", networkID, ErrNetworkNotFound)
	}

	t.log.Info().Str("network_id", networkID).Msg("reclaiming local network")

	if b.NetworkType != TypeVLAN {
		return fmt.Errorf("cannot reclaim network %s of type %q: %w", networkID, b.NetworkType, ErrUnsupportedNetworkType)
	}

	t.log.Info().Int("vlan_id", *b.VLANID).Str("switch", b.SwitchName).Msg("reclaiming vlan id")
	if err := t.switches.UntagVLANOnSwitch(ctx, *b.VLANID, b.SwitchName); err != nil {
		return fmt.Errorf("failed to remove vlan %d from switch %q: %w", *b.VLANID, b.SwitchName, err)
	}

	delete(t.bindings, networkID)
	return nil
}

func (t *Table) Get(networkID string) (Binding, bool) {
	b, ok := t.bindings[networkID]
	if !ok {
		return Binding{}, false
	}
	return b.clone(), true
}

// LookupByPort finds the network a port is bound to.
func (t *Table) LookupByPort(portID string) (string, Binding, bool) {
	for networkID, b := range t.bindings {
		if b.HasPort(portID) {
			return networkID, b.clone(), true
		}
	}
	return "", Binding{}, false
}

func (t *Table) AddPort(networkID, portID string) error {
	b, ok := t.bindings[networkID]
	if !ok {
		return fmt.Errorf("cannot bind port %s: %w", portID, ErrNetworkNotFound)
	}
	b.Ports[portID] = struct{}{}
	return nil
}

// RemovePort unbinds a port and returns how many ports remain on the network.
func (t *Table) RemovePort(networkID, portID string) (int, error) {
	b, ok := t.bindings[networkID]
	if !ok {
		return 0, fmt.Errorf("cannot unbind port %s: %w", portID, ErrNetworkNotFound)
	}
	delete(b.Ports, portID)
	return len(b.Ports), nil
}

// NetworkIDs returns the known network ids in sorted order.
func (t *Table) NetworkIDs() []string {
	ids := lo.Keys(t.bindings)
	slices.Sort(ids)
	return ids
}

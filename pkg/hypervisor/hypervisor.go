// Package hypervisor implements the agent's host collaborator on top of
// Open vSwitch: vNICs are host links found through netlink, vswitches are
// OVS bridges.
package hypervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cybercoder/vswitch-agent/pkg/agent"
	"github.com/cybercoder/vswitch-agent/pkg/net_utils"
)

var ErrVnicNotFound = errors.New("vnic not present on host")

type VnicLister interface {
	ListVnics() ([]net_utils.Vnic, error)
}

// Switches is the subset of the OVS client the driver needs.
type Switches interface {
	AttachPort(ctx context.Context, bridgeName, portName, ifaceID string) error
	DetachPort(ctx context.Context, bridgeName, ifaceID string, force bool) error
	SetPortTag(ctx context.Context, ifaceID string, vlanID int) error
	AddBridgeTrunk(ctx context.Context, bridgeName string, vlanID int) error
	RemoveBridgeTrunk(ctx context.Context, bridgeName string, vlanID int) error
	SetBridgeAccessMode(ctx context.Context, bridgeName string) error
}

type Driver struct {
	vnics    VnicLister
	switches Switches
	log      zerolog.Logger
}

var _ agent.Hypervisor = (*Driver)(nil)

func NewDriver(vnics VnicLister, switches Switches, log zerolog.Logger) *Driver {
	return &Driver{vnics: vnics, switches: switches, log: log}
}

func (d *Driver) vnicsByPortID() (map[string]net_utils.Vnic, error) {
	vnics, err := d.vnics.ListVnics()
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(vnics, func(v net_utils.Vnic) string { return v.PortID }), nil
}

func (d *Driver) ListLocalPortIDs(context.Context) (map[string]struct{}, error) {
	vnics, err := d.vnicsByPortID()
	if err != nil {
		return nil, err
	}
	return lo.MapValues(vnics, func(net_utils.Vnic, string) struct{} { return struct{}{} }), nil
}

func (d *Driver) PortExists(_ context.Context, portID string) (bool, error) {
	vnics, err := d.vnicsByPortID()
	if err != nil {
		return false, err
	}
	_, ok := vnics[portID]
	return ok, nil
}

func (d *Driver) AttachPort(ctx context.Context, switchName, portID string) error {
	vnics, err := d.vnicsByPortID()
	if err != nil {
		return err
	}
	vnic, ok := vnics[portID]
	if !ok {
		d.log.Warn().Str("port_id", portID).Str("switch", switchName).Msg("no vnic for port")
		return fmt.Errorf("%w: %s", ErrVnicNotFound, portID)
	}
	if err := d.switches.AttachPort(ctx, switchName, vnic.Name, portID); err != nil {
		return err
	}
	d.log.Debug().Str("port_id", portID).Str("link", vnic.Name).Str("switch", switchName).Msg("vnic attached")
	return nil
}

// DetachPort works from OVS state alone since the link may already be gone.
func (d *Driver) DetachPort(ctx context.Context, switchName, portID string, force bool) error {
	if err := d.switches.DetachPort(ctx, switchName, portID, force); err != nil {
		return err
	}
	d.log.Debug().Str("port_id", portID).Str("switch", switchName).Msg("vnic detached")
	return nil
}

func (d *Driver) TagVLANOnPort(ctx context.Context, vlanID int, portID string) error {
	return d.switches.SetPortTag(ctx, portID, vlanID)
}

func (d *Driver) TagVLANOnSwitch(ctx context.Context, vlanID int, switchName string) error {
	return d.switches.AddBridgeTrunk(ctx, switchName, vlanID)
}

func (d *Driver) UntagVLANOnSwitch(ctx context.Context, vlanID int, switchName string) error {
	return d.switches.RemoveBridgeTrunk(ctx, switchName, vlanID)
}

func (d *Driver) SetSwitchAccessMode(ctx context.Context, switchName string) error {
	return d.switches.SetBridgeAccessMode(ctx, switchName)
}

// Package agent reconciles the vNICs present on this host against the
// networking controller's desired state.
//
// A single polling loop diffs the locally observed ports against the last
// known set and binds or unbinds them through the Reconciler. Push
// notifications from the controller reach the same Reconciler, which
// serializes every change to the binding table.
package agent

import (
	"context"

	"github.com/cybercoder/vswitch-agent/pkg/binding"
)

// Hypervisor is the host side of port and switch configuration.
type Hypervisor interface {
	binding.SwitchConfigurator

	ListLocalPortIDs(ctx context.Context) (map[string]struct{}, error)
	PortExists(ctx context.Context, portID string) (bool, error)
	AttachPort(ctx context.Context, switchName, portID string) error
	DetachPort(ctx context.Context, switchName, portID string, force bool) error
	TagVLANOnPort(ctx context.Context, vlanID int, portID string) error
}

// Controller is the RPC surface of the central networking controller.
type Controller interface {
	GetDeviceDetails(ctx context.Context, device, agentID string) (DeviceDetails, error)
	UpdateDeviceDown(ctx context.Context, device, agentID string) error
}

// NotificationHandler receives the controller's unsolicited updates.
type NotificationHandler interface {
	NetworkDelete(ctx context.Context, networkID string) error
	PortDelete(ctx context.Context, portID string) error
	PortUpdate(ctx context.Context, update PortUpdate) error
}

// DeviceDetails is the controller's view of a device. An empty PortID means
// the controller has no port for the device.
type DeviceDetails struct {
	Device          string              `json:"device"`
	PortID          string              `json:"port_id,omitempty"`
	NetworkID       string              `json:"network_id"`
	NetworkType     binding.NetworkType `json:"network_type"`
	PhysicalNetwork string              `json:"physical_network"`
	SegmentationID  *int                `json:"segmentation_id,omitempty"`
	AdminStateUp    bool                `json:"admin_state_up"`
}

func (d DeviceDetails) VifPort() VifPort {
	return VifPort{
		PortID:          d.PortID,
		NetworkID:       d.NetworkID,
		NetworkType:     d.NetworkType,
		PhysicalNetwork: d.PhysicalNetwork,
		SegmentationID:  d.SegmentationID,
		AdminStateUp:    d.AdminStateUp,
	}
}

// Port is the port body carried by a port_update notification.
type Port struct {
	ID           string `json:"id"`
	NetworkID    string `json:"network_id"`
	AdminStateUp bool   `json:"admin_state_up"`
}

type PortUpdate struct {
	Port            Port                `json:"port"`
	NetworkType     binding.NetworkType `json:"network_type"`
	SegmentationID  *int                `json:"segmentation_id,omitempty"`
	PhysicalNetwork string              `json:"physical_network"`
}

func (u PortUpdate) VifPort() VifPort {
	return VifPort{
		PortID:          u.Port.ID,
		NetworkID:       u.Port.NetworkID,
		NetworkType:     u.NetworkType,
		PhysicalNetwork: u.PhysicalNetwork,
		SegmentationID:  u.SegmentationID,
		AdminStateUp:    u.Port.AdminStateUp,
	}
}

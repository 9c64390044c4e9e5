package agent

import (
	"context"
	"fmt"
)

// hypervisorOps tags every error of the wrapped Hypervisor with
// ErrHypervisorOperation.
type hypervisorOps struct {
	hv Hypervisor
}

func hvErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrHypervisorOperation, op, err)
}

func (h hypervisorOps) ListLocalPortIDs(ctx context.Context) (map[string]struct{}, error) {
	ports, err := h.hv.ListLocalPortIDs(ctx)
	return ports, hvErr("list local ports", err)
}

func (h hypervisorOps) PortExists(ctx context.Context, portID string) (bool, error) {
	exists, err := h.hv.PortExists(ctx, portID)
	return exists, hvErr("lookup port "+portID, err)
}

func (h hypervisorOps) AttachPort(ctx context.Context, switchName, portID string) error {
	return hvErr(fmt.Sprintf("attach port %s to %s", portID, switchName), h.hv.AttachPort(ctx, switchName, portID))
}

func (h hypervisorOps) DetachPort(ctx context.Context, switchName, portID string, force bool) error {
	return hvErr(fmt.Sprintf("detach port %s from %s", portID, switchName), h.hv.DetachPort(ctx, switchName, portID, force))
}

func (h hypervisorOps) TagVLANOnPort(ctx context.Context, vlanID int, portID string) error {
	return hvErr(fmt.Sprintf("tag port %s with vlan %d", portID, vlanID), h.hv.TagVLANOnPort(ctx, vlanID, portID))
}

func (h hypervisorOps) TagVLANOnSwitch(ctx context.Context, vlanID int, switchName string) error {
	return hvErr(fmt.Sprintf("tag switch %s with vlan %d", switchName, vlanID), h.hv.TagVLANOnSwitch(ctx, vlanID, switchName))
}

func (h hypervisorOps) UntagVLANOnSwitch(ctx context.Context, vlanID int, switchName string) error {
	return hvErr(fmt.Sprintf("untag vlan %d from switch %s", vlanID, switchName), h.hv.UntagVLANOnSwitch(ctx, vlanID, switchName))
}

func (h hypervisorOps) SetSwitchAccessMode(ctx context.Context, switchName string) error {
	return hvErr("set access mode on "+switchName, h.hv.SetSwitchAccessMode(ctx, switchName))
}

// Package binding tracks which local networks are provisioned on which
// vswitch and which ports are bound to them.
package binding

import (
	"errors"
	"slices"

	"github.com/samber/lo"
)

type NetworkType string

const (
	TypeVLAN  NetworkType = "vlan"
	TypeFlat  NetworkType = "flat"
	TypeLocal NetworkType = "local"
)

func (t NetworkType) Supported() bool {
	switch t {
	case TypeVLAN, TypeFlat, TypeLocal:
		return true
	}
	return false
}

var (
	ErrUnsupportedNetworkType = errors.New("unsupported network type")
	ErrMissingSegmentationID  = errors.New("vlan network requires a segmentation id")
	ErrNetworkNotFound        = errors.New("network not provisioned on this agent")
)

// Binding is the provisioning state of one network on this host.
// VLANID is set if and only if NetworkType is TypeVLAN.
type Binding struct {
	NetworkID   string
	NetworkType NetworkType
	SwitchName  string
	VLANID      *int
	Ports       map[string]struct{}
}

func (b Binding) HasPort(portID string) bool {
	_, ok := b.Ports[portID]
	return ok
}

// PortIDs returns the bound ports in sorted order.
func (b Binding) PortIDs() []string {
	ids := lo.Keys(b.Ports)
	slices.Sort(ids)
	return ids
}

func (b Binding) clone() Binding {
	out := b
	out.Ports = make(map[string]struct{}, len(b.Ports))
	for id := range b.Ports {
		out.Ports[id] = struct{}{}
	}
	if b.VLANID != nil {
		vlan := *b.VLANID
		out.VLANID = &vlan
	}
	return out
}

package net_utils

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Vnic is a host link backing a VM network interface.
type Vnic struct {
	Name   string
	PortID string
}

// VnicLister discovers vNIC links in a network namespace. Links are
// selected by name prefix; the controller's port id is read from the link
// alias and defaults to the link name.
type VnicLister struct {
	netnsPath string
	prefix    string
}

func NewVnicLister(netnsPath, prefix string) *VnicLister {
	return &VnicLister{netnsPath: netnsPath, prefix: prefix}
}

func (v *VnicLister) handle() (*netlink.Handle, error) {
	if v.netnsPath == "" {
		return netlink.NewHandle()
	}
	ns, err := netns.GetFromPath(v.netnsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open netns %s: %v", v.netnsPath, err)
	}
	defer ns.Close()
	return netlink.NewHandleAt(ns)
}

func (v *VnicLister) ListVnics() ([]Vnic, error) {
	h, err := v.handle()
	if err != nil {
		return nil, err
	}
	defer h.Delete()

	links, err := h.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to get link list: %v", err)
	}
	return FilterVnics(links, v.prefix), nil
}

// FilterVnics keeps the links whose name starts with prefix.
func FilterVnics(links []netlink.Link, prefix string) []Vnic {
	return lo.FilterMap(links, func(l netlink.Link, _ int) (Vnic, bool) {
		attrs := l.Attrs()
		if attrs == nil || !strings.HasPrefix(attrs.Name, prefix) {
			return Vnic{}, false
		}
		portID := strings.TrimSpace(attrs.Alias)
		if portID == "" {
			portID = attrs.Name
		}
		return Vnic{Name: attrs.Name, PortID: portID}, true
	})
}

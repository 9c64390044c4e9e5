package net_utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vishvananda/netlink"
)

func TestFilterVnics(t *testing.T) {
	links := []netlink.Link{
		&netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "tap0a1b2c3d", Alias: "0a1b2c3d-port"}},
		&netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "tap99", Alias: "  "}},
		&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}},
		&netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: "vethabc"}, PeerName: "tapnot"},
		&netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: "br-int"}},
	}

	got := FilterVnics(links, "tap")

	assert.Equal(t, []Vnic{
		{Name: "tap0a1b2c3d", PortID: "0a1b2c3d-port"},
		{Name: "tap99", PortID: "tap99"},
	}, got)
}

func TestFilterVnicsEmptyPrefix(t *testing.T) {
	links := []netlink.Link{
		&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo"}},
		&netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "tap1"}},
	}

	assert.Len(t, FilterVnics(links, ""), 2)
	assert.Empty(t, FilterVnics(nil, "tap"))
}

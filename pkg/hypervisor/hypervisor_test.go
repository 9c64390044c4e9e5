package hypervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybercoder/vswitch-agent/pkg/net_utils"
)

type staticVnics struct {
	vnics []net_utils.Vnic
	err   error
}

func (s *staticVnics) ListVnics() ([]net_utils.Vnic, error) {
	return s.vnics, s.err
}

type recordingSwitches struct {
	calls []string
}

func (r *recordingSwitches) record(format string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return nil
}

func (r *recordingSwitches) AttachPort(_ context.Context, bridgeName, portName, ifaceID string) error {
	return r.record("attach %s %s %s", bridgeName, portName, ifaceID)
}

func (r *recordingSwitches) DetachPort(_ context.Context, bridgeName, ifaceID string, force bool) error {
	return r.record("detach %s %s %t", bridgeName, ifaceID, force)
}

func (r *recordingSwitches) SetPortTag(_ context.Context, ifaceID string, vlanID int) error {
	return r.record("tag %s %d", ifaceID, vlanID)
}

func (r *recordingSwitches) AddBridgeTrunk(_ context.Context, bridgeName string, vlanID int) error {
	return r.record("trunk+ %s %d", bridgeName, vlanID)
}

func (r *recordingSwitches) RemoveBridgeTrunk(_ context.Context, bridgeName string, vlanID int) error {
	return r.record("trunk- %s %d", bridgeName, vlanID)
}

func (r *recordingSwitches) SetBridgeAccessMode(_ context.Context, bridgeName string) error {
	return r.record("access %s", bridgeName)
}

func newTestDriver() (*Driver, *recordingSwitches) {
	vnics := &staticVnics{vnics: []net_utils.Vnic{
		{Name: "tap0001", PortID: "p1"},
		{Name: "tap0002", PortID: "p2"},
	}}
	sw := &recordingSwitches{}
	return NewDriver(vnics, sw, zerolog.Nop()), sw
}

func TestListLocalPortIDs(t *testing.T) {
	d, _ := newTestDriver()

	ports, err := d.ListLocalPortIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"p1": {}, "p2": {}}, ports)

	ok, err := d.PortExists(context.Background(), "p2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.PortExists(context.Background(), "p3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListErrors(t *testing.T) {
	boom := errors.New("netlink: operation not permitted")
	d := NewDriver(&staticVnics{err: boom}, &recordingSwitches{}, zerolog.Nop())

	_, err := d.ListLocalPortIDs(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = d.PortExists(context.Background(), "p1")
	assert.ErrorIs(t, err, boom)
}

func TestAttachPortUsesLinkName(t *testing.T) {
	var logs bytes.Buffer
	d, sw := newTestDriver()
	d.log = zerolog.New(&logs)

	require.NoError(t, d.AttachPort(context.Background(), "br-eth1", "p1"))
	assert.Equal(t, []string{"attach br-eth1 tap0001 p1"}, sw.calls)
	assert.Contains(t, logs.String(), `"link":"tap0001"`)

	err := d.AttachPort(context.Background(), "br-eth1", "p9")
	assert.ErrorIs(t, err, ErrVnicNotFound)
	assert.Contains(t, logs.String(), "no vnic for port")
}

func TestSwitchOperations(t *testing.T) {
	d, sw := newTestDriver()
	ctx := context.Background()

	require.NoError(t, d.DetachPort(ctx, "br-eth1", "p1", true))
	require.NoError(t, d.TagVLANOnPort(ctx, 5, "p1"))
	require.NoError(t, d.TagVLANOnSwitch(ctx, 5, "br-eth1"))
	require.NoError(t, d.UntagVLANOnSwitch(ctx, 5, "br-eth1"))
	require.NoError(t, d.SetSwitchAccessMode(ctx, "br-ex"))

	assert.Equal(t, []string{
		"detach br-eth1 p1 true",
		"tag p1 5",
		"trunk+ br-eth1 5",
		"trunk- br-eth1 5",
		"access br-ex",
	}, sw.calls)
}

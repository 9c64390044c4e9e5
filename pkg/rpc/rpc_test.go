package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybercoder/vswitch-agent/pkg/agent"
	"github.com/cybercoder/vswitch-agent/pkg/binding"
)

type fakeRequester struct {
	subject  string
	request  Envelope
	deadline bool
	reply    []byte
	err      error
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	_, f.deadline = ctx.Deadline()
	if err := json.Unmarshal(data, &f.request); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &nats.Msg{Subject: subj, Data: f.reply}, nil
}

func TestClientGetDeviceDetails(t *testing.T) {
	req := &fakeRequester{reply: []byte(`{"result": {
		"device": "tap1",
		"port_id": "p1",
		"network_id": "n1",
		"network_type": "vlan",
		"physical_network": "physnet1",
		"segmentation_id": 5,
		"admin_state_up": true
	}}`)}
	c := NewClient(req, "quantum", 5*time.Second)

	details, err := c.GetDeviceDetails(context.Background(), "tap1", "vswitch_host1")
	require.NoError(t, err)

	assert.Equal(t, "quantum.plugin", req.subject)
	assert.True(t, req.deadline)
	assert.Equal(t, "get_device_details", req.request.Method)
	assert.Equal(t, APIVersion, req.request.Version)
	assert.JSONEq(t, `{"device": "tap1", "agent_id": "vswitch_host1"}`, string(req.request.Args))

	assert.Equal(t, "p1", details.PortID)
	assert.Equal(t, binding.TypeVLAN, details.NetworkType)
	require.NotNil(t, details.SegmentationID)
	assert.Equal(t, 5, *details.SegmentationID)
	assert.True(t, details.AdminStateUp)
}

func TestClientUnknownDeviceHasNoPortID(t *testing.T) {
	req := &fakeRequester{reply: []byte(`{"result": {"device": "tap9"}}`)}
	c := NewClient(req, "quantum", time.Second)

	details, err := c.GetDeviceDetails(context.Background(), "tap9", "a")
	require.NoError(t, err)
	assert.Empty(t, details.PortID)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     *fakeRequester
		wantErr error
	}{
		{"transport", &fakeRequester{err: nats.ErrTimeout}, nats.ErrTimeout},
		{"remote", &fakeRequester{reply: []byte(`{"error": "port not found"}`)}, ErrRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.req, "quantum", time.Second)
			err := c.UpdateDeviceDown(context.Background(), "tap1", "a")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "update_device_down", tt.req.request.Method)
		})
	}

	c := NewClient(&fakeRequester{reply: []byte(`not json`)}, "quantum", time.Second)
	_, err := c.GetDeviceDetails(context.Background(), "tap1", "a")
	assert.Error(t, err)
}

type recordingHandler struct {
	networkDeletes []string
	portDeletes    []string
	portUpdates    []agent.PortUpdate
	err            error
}

func (h *recordingHandler) NetworkDelete(_ context.Context, networkID string) error {
	h.networkDeletes = append(h.networkDeletes, networkID)
	return h.err
}

func (h *recordingHandler) PortDelete(_ context.Context, portID string) error {
	h.portDeletes = append(h.portDeletes, portID)
	return h.err
}

func (h *recordingHandler) PortUpdate(_ context.Context, update agent.PortUpdate) error {
	h.portUpdates = append(h.portUpdates, update)
	return h.err
}

func TestDispatch(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, []byte(`{"method": "network_delete", "version": "1.0", "args": {"network_id": "n1"}}`)))
	require.NoError(t, d.Dispatch(ctx, []byte(`{"method": "port_delete", "args": {"port_id": "p1"}}`)))
	require.NoError(t, d.Dispatch(ctx, []byte(`{"method": "port_update", "version": "1.0", "args": {
		"port": {"id": "p2", "network_id": "n2", "admin_state_up": true},
		"network_type": "flat",
		"physical_network": "physnet1"
	}}`)))
	require.NoError(t, d.Dispatch(ctx, []byte(`{"method": "tunnel_update", "args": {"tunnel_ip": "10.0.0.1"}}`)))

	assert.Equal(t, []string{"n1"}, h.networkDeletes)
	assert.Equal(t, []string{"p1"}, h.portDeletes)
	require.Len(t, h.portUpdates, 1)
	assert.Equal(t, "p2", h.portUpdates[0].Port.ID)
	assert.Equal(t, binding.TypeFlat, h.portUpdates[0].NetworkType)
	assert.Nil(t, h.portUpdates[0].SegmentationID)
}

func TestDispatchRejects(t *testing.T) {
	d := NewDispatcher(&recordingHandler{}, zerolog.Nop())
	ctx := context.Background()

	assert.ErrorIs(t, d.Dispatch(ctx, []byte(`{"method": "security_groups_updated"}`)), ErrUnknownMethod)
	assert.ErrorIs(t, d.Dispatch(ctx, []byte(`{"method": "port_delete", "version": "2.0"}`)), ErrIncompatibleVersion)
	assert.ErrorIs(t, d.Dispatch(ctx, []byte(`{"method": "port_delete", "version": "1.1"}`)), ErrIncompatibleVersion)
	assert.Error(t, d.Dispatch(ctx, []byte(`{`)))
	assert.Error(t, d.Dispatch(ctx, []byte(`{"method": "port_delete", "args": "p1"}`)))
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	boom := errors.New("reclaim failed")
	d := NewDispatcher(&recordingHandler{err: boom}, zerolog.Nop())

	err := d.Dispatch(context.Background(), []byte(`{"method": "network_delete", "args": {"network_id": "n1"}}`))
	assert.ErrorIs(t, err, boom)
}

func TestDispatcherMethods(t *testing.T) {
	d := NewDispatcher(&recordingHandler{}, zerolog.Nop())
	assert.Equal(t, []string{"network_delete", "port_delete", "port_update", "tunnel_update"}, d.Methods())
}

func TestCompatible(t *testing.T) {
	assert.True(t, compatible(""))
	assert.True(t, compatible("1.0"))
	assert.True(t, compatible("1"))
	assert.False(t, compatible("1.1"))
	assert.False(t, compatible("2.0"))
	assert.False(t, compatible("one"))
}

type fakeSubscriber struct {
	handlers map[string]nats.MsgHandler
	failOn   string
}

func (f *fakeSubscriber) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if subj == f.failOn {
		return nil, errors.New("permissions violation")
	}
	f.handlers[subj] = cb
	return &nats.Subscription{Subject: subj}, nil
}

func TestConsumeRoutesNotifications(t *testing.T) {
	sub := &fakeSubscriber{handlers: make(map[string]nats.MsgHandler)}
	h := &recordingHandler{}

	c, err := Consume(context.Background(), sub, "quantum", NewDispatcher(h, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Len(t, sub.handlers, 4)
	assert.Len(t, c.subs, 4)
	cb, ok := sub.handlers["quantum.q-agent-notifier-port-delete"]
	require.True(t, ok)

	cb(&nats.Msg{Data: []byte(`{"method": "port_delete", "args": {"port_id": "p1"}}`)})
	// malformed messages are logged and dropped
	cb(&nats.Msg{Data: []byte(`garbage`)})

	assert.Equal(t, []string{"p1"}, h.portDeletes)
}

func TestConsumeSubscribeFailure(t *testing.T) {
	sub := &fakeSubscriber{
		handlers: make(map[string]nats.MsgHandler),
		failOn:   "quantum.q-agent-notifier-network-delete",
	}

	_, err := Consume(context.Background(), sub, "quantum", NewDispatcher(&recordingHandler{}, zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, []string{
		"q-agent-notifier-port-update",
		"q-agent-notifier-network-delete",
		"q-agent-notifier-port-delete",
		"q-agent-notifier-tunnel-update",
	}, AgentSubjects(""))
	assert.Equal(t, "quantum.plugin", Subject("quantum", TopicPlugin))
}

package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/cybercoder/vswitch-agent/pkg/binding"
)

// fakeHypervisor keeps a set of local ports and records every call.
type fakeHypervisor struct {
	mu       sync.Mutex
	ports    map[string]struct{}
	calls    []string
	failOn   map[string]error
	listErr  error
	onList   func()
	attached map[string]string
	portTags map[string]int
}

func newFakeHypervisor(ports ...string) *fakeHypervisor {
	h := &fakeHypervisor{
		ports:    make(map[string]struct{}),
		failOn:   make(map[string]error),
		attached: make(map[string]string),
		portTags: make(map[string]int),
	}
	for _, p := range ports {
		h.ports[p] = struct{}{}
	}
	return h
}

func (h *fakeHypervisor) setPorts(ports ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports = make(map[string]struct{})
	for _, p := range ports {
		h.ports[p] = struct{}{}
	}
}

func (h *fakeHypervisor) record(call string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	return h.failOn[call]
}

func (h *fakeHypervisor) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHypervisor) ListLocalPortIDs(context.Context) (map[string]struct{}, error) {
	if h.onList != nil {
		h.onList()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	out := make(map[string]struct{}, len(h.ports))
	for p := range h.ports {
		out[p] = struct{}{}
	}
	return out, nil
}

func (h *fakeHypervisor) PortExists(_ context.Context, portID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.ports[portID]
	return ok, nil
}

func (h *fakeHypervisor) AttachPort(_ context.Context, switchName, portID string) error {
	if err := h.record(fmt.Sprintf("attach %s %s", switchName, portID)); err != nil {
		return err
	}
	h.mu.Lock()
	h.attached[portID] = switchName
	h.mu.Unlock()
	return nil
}

func (h *fakeHypervisor) DetachPort(_ context.Context, switchName, portID string, force bool) error {
	if err := h.record(fmt.Sprintf("detach %s %s %t", switchName, portID, force)); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.attached, portID)
	h.mu.Unlock()
	return nil
}

func (h *fakeHypervisor) TagVLANOnPort(_ context.Context, vlanID int, portID string) error {
	if err := h.record(fmt.Sprintf("tag-port %d %s", vlanID, portID)); err != nil {
		return err
	}
	h.mu.Lock()
	h.portTags[portID] = vlanID
	h.mu.Unlock()
	return nil
}

func (h *fakeHypervisor) TagVLANOnSwitch(_ context.Context, vlanID int, switchName string) error {
	return h.record(fmt.Sprintf("tag-switch %d %s", vlanID, switchName))
}

func (h *fakeHypervisor) UntagVLANOnSwitch(_ context.Context, vlanID int, switchName string) error {
	return h.record(fmt.Sprintf("untag-switch %d %s", vlanID, switchName))
}

func (h *fakeHypervisor) SetSwitchAccessMode(_ context.Context, switchName string) error {
	return h.record("access " + switchName)
}

// MockController is a mock implementation of Controller.
type MockController struct {
	mock.Mock
}

func (m *MockController) GetDeviceDetails(ctx context.Context, device, agentID string) (DeviceDetails, error) {
	args := m.Called(ctx, device, agentID)
	return args.Get(0).(DeviceDetails), args.Error(1)
}

func (m *MockController) UpdateDeviceDown(ctx context.Context, device, agentID string) error {
	args := m.Called(ctx, device, agentID)
	return args.Error(0)
}

type staticResolver map[string]string

func (s staticResolver) Resolve(physicalNetwork string) string {
	if sw, ok := s[physicalNetwork]; ok {
		return sw
	}
	return physicalNetwork
}

var _ binding.Resolver = staticResolver{}

func vlanID(id int) *int { return &id }

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cybercoder/vswitch-agent/pkg/agent"
)

// Requester is the request/reply part of *nats.Conn.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Client calls the controller plugin. It implements agent.Controller.
type Client struct {
	conn    Requester
	subject string
	timeout time.Duration
}

var _ agent.Controller = (*Client)(nil)

func NewClient(conn Requester, subjectPrefix string, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		subject: Subject(subjectPrefix, TopicPlugin),
		timeout: timeout,
	}
}

type deviceRequest struct {
	Device  string `json:"device"`
	AgentID string `json:"agent_id"`
}

func (c *Client) GetDeviceDetails(ctx context.Context, device, agentID string) (agent.DeviceDetails, error) {
	var details agent.DeviceDetails
	if err := c.call(ctx, "get_device_details", deviceRequest{Device: device, AgentID: agentID}, &details); err != nil {
		return agent.DeviceDetails{}, err
	}
	return details, nil
}

func (c *Client) UpdateDeviceDown(ctx context.Context, device, agentID string) error {
	return c.call(ctx, "update_device_down", deviceRequest{Device: device, AgentID: agentID}, nil)
}

func (c *Client) call(ctx context.Context, method string, args, result any) error {
	body, err := NewEnvelope(method, args)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, c.subject, body)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", method, err)
	}
	if reply.Error != "" {
		return fmt.Errorf("%w: %s: %s", ErrRemote, method, reply.Error)
	}
	if result != nil && len(reply.Result) > 0 {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

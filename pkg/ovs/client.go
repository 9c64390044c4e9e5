package ovs

import (
	"context"
	"errors"
	"fmt"

	"github.com/ovn-kubernetes/libovsdb/client"
	"github.com/ovn-kubernetes/libovsdb/model"
	"github.com/ovn-kubernetes/libovsdb/ovsdb"
	"github.com/rs/zerolog"
)

const DefaultEndpoint = "unix:/var/run/openvswitch/db.sock"

var (
	ErrBridgeNotFound = errors.New("bridge not found")
	ErrPortNotFound   = errors.New("port not found")
)

type Client struct {
	ovsClient client.Client
	log       zerolog.Logger
}

func DatabaseModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel("Open_vSwitch", map[string]model.Model{
		OvsBridgeTable:    &Bridge{},
		OvsPortTable:      &Port{},
		OvsInterfaceTable: &Interface{},
	})
}

func CreateOVSClient(ctx context.Context, endpoint string, log zerolog.Logger) (*Client, error) {
	dbModel, err := DatabaseModel()
	if err != nil {
		return nil, fmt.Errorf("failed to create DB model: %w", err)
	}

	ovsClient, err := client.NewOVSDBClient(
		dbModel,
		client.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OVS client: %w", err)
	}

	if err := ovsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to OVSDB at %s: %w", endpoint, err)
	}
	if _, err := ovsClient.MonitorAll(ctx); err != nil {
		ovsClient.Disconnect()
		return nil, fmt.Errorf("failed to monitor OVSDB: %w", err)
	}
	log.Info().Str("endpoint", endpoint).Msg("connected to OVSDB")
	return &Client{ovsClient: ovsClient, log: log}, nil
}

func (c *Client) Close() {
	c.ovsClient.Disconnect()
}

func (c *Client) transact(ctx context.Context, ops ...ovsdb.Operation) error {
	reply, err := c.ovsClient.Transact(ctx, ops...)
	if err != nil {
		return fmt.Errorf("OVSDB transaction failed: %w", err)
	}
	if opErrs, err := ovsdb.CheckOperationResults(reply, ops); err != nil {
		for i, opErr := range opErrs {
			c.log.Error().Int("op", i).Str("error", opErr.Error()).Msg("OVSDB operation error")
		}
		return fmt.Errorf("OVSDB transaction failed: %w", err)
	}
	return nil
}

package ovs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ovn-kubernetes/libovsdb/client"
	"github.com/ovn-kubernetes/libovsdb/model"
	"github.com/ovn-kubernetes/libovsdb/ovsdb"
	"github.com/samber/lo"
)

// namedUUID returns a transaction-local row name usable in references.
func namedUUID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

func (c *Client) getBridge(ctx context.Context, name string) (*Bridge, error) {
	bridge := &Bridge{Name: name}
	if err := c.ovsClient.Get(ctx, bridge); err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrBridgeNotFound, name)
		}
		return nil, fmt.Errorf("failed to get bridge %q: %w", name, err)
	}
	return bridge, nil
}

// uplinkPort returns the bridge's local port, which carries its trunks.
func (c *Client) uplinkPort(ctx context.Context, bridgeName string) (*Port, error) {
	if _, err := c.getBridge(ctx, bridgeName); err != nil {
		return nil, err
	}
	port := &Port{Name: bridgeName}
	if err := c.ovsClient.Get(ctx, port); err != nil {
		return nil, fmt.Errorf("failed to get uplink port of bridge %q: %w", bridgeName, err)
	}
	return port, nil
}

// portByIfaceID finds the port whose interface carries iface-id=ifaceID and
// the bridge holding it. The bridge is nil for a dangling port.
func (c *Client) portByIfaceID(ctx context.Context, ifaceID string) (*Port, *Bridge, error) {
	var ifaces []Interface
	err := c.ovsClient.WhereCache(func(i *Interface) bool {
		return i.ExternalIDs[IfaceIDKey] == ifaceID
	}).List(ctx, &ifaces)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	if len(ifaces) == 0 {
		return nil, nil, fmt.Errorf("%w: iface-id %s", ErrPortNotFound, ifaceID)
	}
	ifaceUUIDs := lo.Map(ifaces, func(i Interface, _ int) string { return i.UUID })

	var ports []Port
	err = c.ovsClient.WhereCache(func(p *Port) bool {
		return lo.Some(p.Interfaces, ifaceUUIDs)
	}).List(ctx, &ports)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, nil, fmt.Errorf("%w: iface-id %s", ErrPortNotFound, ifaceID)
	}
	port := &ports[0]

	bridge, err := c.bridgeOf(ctx, port.UUID)
	if err != nil {
		return nil, nil, err
	}
	return port, bridge, nil
}

// bridgeOf returns the bridge holding portUUID, or nil for a dangling port.
func (c *Client) bridgeOf(ctx context.Context, portUUID string) (*Bridge, error) {
	var bridges []Bridge
	err := c.ovsClient.WhereCache(func(b *Bridge) bool {
		return lo.Contains(b.Ports, portUUID)
	}).List(ctx, &bridges)
	if err != nil {
		return nil, fmt.Errorf("failed to list bridges: %w", err)
	}
	if len(bridges) == 0 {
		return nil, nil
	}
	return &bridges[0], nil
}

func (c *Client) removeFromBridge(bridge *Bridge, portUUID string) ([]ovsdb.Operation, error) {
	return c.ovsClient.Where(bridge).Mutate(bridge, model.Mutation{
		Field:   &bridge.Ports,
		Mutator: ovsdb.MutateOperationDelete,
		Value:   []string{portUUID},
	})
}

func (c *Client) insertIntoBridge(bridge *Bridge, portUUID string) ([]ovsdb.Operation, error) {
	return c.ovsClient.Where(bridge).Mutate(bridge, model.Mutation{
		Field:   &bridge.Ports,
		Mutator: ovsdb.MutateOperationInsert,
		Value:   []string{portUUID},
	})
}

// AttachPort plugs the host link portName into bridgeName, tagging its
// interface with iface-id=ifaceID. A port already on another bridge is
// moved; a port already on bridgeName is left alone. A port named portName
// that lacks the iface-id, such as one added by the hypervisor itself, is
// adopted rather than created again.
func (c *Client) AttachPort(ctx context.Context, bridgeName, portName, ifaceID string) error {
	bridge, err := c.getBridge(ctx, bridgeName)
	if err != nil {
		return err
	}

	port, current, err := c.portByIfaceID(ctx, ifaceID)
	if errors.Is(err, ErrPortNotFound) {
		port, current, err = c.adoptPort(ctx, portName, ifaceID)
	}
	switch {
	case errors.Is(err, ErrPortNotFound):
		return c.createPort(ctx, bridge, portName, ifaceID)
	case err != nil:
		return err
	case current != nil && current.UUID == bridge.UUID:
		c.log.Debug().Str("port", portName).Str("bridge", bridgeName).Msg("port already attached")
		return nil
	}

	var ops []ovsdb.Operation
	if current != nil {
		removeOps, err := c.removeFromBridge(current, port.UUID)
		if err != nil {
			return fmt.Errorf("failed to prepare bridge mutation: %w", err)
		}
		ops = append(ops, removeOps...)
	}
	insertOps, err := c.insertIntoBridge(bridge, port.UUID)
	if err != nil {
		return fmt.Errorf("failed to prepare bridge mutation: %w", err)
	}
	if err := c.transact(ctx, append(ops, insertOps...)...); err != nil {
		return err
	}
	if current != nil {
		c.log.Info().Str("port", port.Name).Str("from", current.Name).Str("bridge", bridgeName).Msg("moved port")
	} else {
		c.log.Info().Str("port", port.Name).Str("bridge", bridgeName).Msg("added port to bridge")
	}
	return nil
}

// adoptPort sets iface-id on every interface of the port named portName and
// returns it with its bridge.
func (c *Client) adoptPort(ctx context.Context, portName, ifaceID string) (*Port, *Bridge, error) {
	port := &Port{Name: portName}
	if err := c.ovsClient.Get(ctx, port); err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrPortNotFound, portName)
		}
		return nil, nil, fmt.Errorf("failed to get port %q: %w", portName, err)
	}

	var ops []ovsdb.Operation
	for _, ifaceUUID := range port.Interfaces {
		iface := &Interface{UUID: ifaceUUID}
		if err := c.ovsClient.Get(ctx, iface); err != nil {
			return nil, nil, fmt.Errorf("failed to get interface of port %q: %w", portName, err)
		}
		iface.ExternalIDs = lo.Assign(iface.ExternalIDs, map[string]string{IfaceIDKey: ifaceID})
		updateOps, err := c.ovsClient.Where(iface).Update(iface, &iface.ExternalIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to prepare interface update: %w", err)
		}
		ops = append(ops, updateOps...)
	}
	if err := c.transact(ctx, ops...); err != nil {
		return nil, nil, err
	}
	c.log.Info().Str("port", portName).Str("iface_id", ifaceID).Msg("adopted existing port")

	bridge, err := c.bridgeOf(ctx, port.UUID)
	if err != nil {
		return nil, nil, err
	}
	return port, bridge, nil
}

func (c *Client) createPort(ctx context.Context, bridge *Bridge, portName, ifaceID string) error {
	iface := &Interface{
		UUID: namedUUID("iface"),
		Name: portName,
		ExternalIDs: map[string]string{
			IfaceIDKey: ifaceID,
		},
	}
	ifaceOps, err := c.ovsClient.Create(iface)
	if err != nil {
		return fmt.Errorf("failed to create interface: %w", err)
	}

	port := &Port{
		UUID:       namedUUID("port"),
		Name:       portName,
		Interfaces: []string{iface.UUID},
	}
	portOps, err := c.ovsClient.Create(port)
	if err != nil {
		return fmt.Errorf("failed to create port: %w", err)
	}

	mutateOps, err := c.insertIntoBridge(bridge, port.UUID)
	if err != nil {
		return fmt.Errorf("failed to prepare bridge mutation: %w", err)
	}

	ops := append(ifaceOps, append(portOps, mutateOps...)...)
	if err := c.transact(ctx, ops...); err != nil {
		return err
	}
	c.log.Info().Str("port", portName).Str("bridge", bridge.Name).Str("iface_id", ifaceID).Msg("created port on bridge")
	return nil
}

// DetachPort removes the port carrying ifaceID from bridgeName; OVS garbage
// collects the unreferenced rows. With force a missing port, or a port found
// on another bridge, is not an error.
func (c *Client) DetachPort(ctx context.Context, bridgeName, ifaceID string, force bool) error {
	port, bridge, err := c.portByIfaceID(ctx, ifaceID)
	if err != nil {
		if force && errors.Is(err, ErrPortNotFound) {
			c.log.Debug().Str("iface_id", ifaceID).Msg("port already detached")
			return nil
		}
		return err
	}
	if bridge == nil {
		if force {
			return nil
		}
		return fmt.Errorf("%w: iface-id %s on bridge %q", ErrPortNotFound, ifaceID, bridgeName)
	}
	if bridge.Name != bridgeName && !force {
		return fmt.Errorf("%w: iface-id %s is on bridge %q, not %q", ErrPortNotFound, ifaceID, bridge.Name, bridgeName)
	}

	ops, err := c.removeFromBridge(bridge, port.UUID)
	if err != nil {
		return fmt.Errorf("failed to prepare bridge mutation: %w", err)
	}
	if err := c.transact(ctx, ops...); err != nil {
		return err
	}
	c.log.Info().Str("port", port.Name).Str("bridge", bridge.Name).Msg("removed port from bridge")
	return nil
}

// SetPortTag puts the port carrying ifaceID in access mode on vlanID.
func (c *Client) SetPortTag(ctx context.Context, ifaceID string, vlanID int) error {
	port, _, err := c.portByIfaceID(ctx, ifaceID)
	if err != nil {
		return err
	}
	mode := VLANModeAccess
	port.Tag = &vlanID
	port.VLANMode = &mode
	ops, err := c.ovsClient.Where(port).Update(port, &port.Tag, &port.VLANMode)
	if err != nil {
		return fmt.Errorf("failed to prepare port update: %w", err)
	}
	return c.transact(ctx, ops...)
}

// AddBridgeTrunk lets vlanID through the bridge's uplink.
func (c *Client) AddBridgeTrunk(ctx context.Context, bridgeName string, vlanID int) error {
	uplink, err := c.uplinkPort(ctx, bridgeName)
	if err != nil {
		return err
	}
	mode := VLANModeTrunk
	uplink.VLANMode = &mode
	updateOps, err := c.ovsClient.Where(uplink).Update(uplink, &uplink.VLANMode)
	if err != nil {
		return fmt.Errorf("failed to prepare uplink update: %w", err)
	}
	mutateOps, err := c.ovsClient.Where(uplink).Mutate(uplink, model.Mutation{
		Field:   &uplink.Trunks,
		Mutator: ovsdb.MutateOperationInsert,
		Value:   []int{vlanID},
	})
	if err != nil {
		return fmt.Errorf("failed to prepare trunk mutation: %w", err)
	}
	return c.transact(ctx, append(updateOps, mutateOps...)...)
}

func (c *Client) RemoveBridgeTrunk(ctx context.Context, bridgeName string, vlanID int) error {
	uplink, err := c.uplinkPort(ctx, bridgeName)
	if err != nil {
		return err
	}
	ops, err := c.ovsClient.Where(uplink).Mutate(uplink, model.Mutation{
		Field:   &uplink.Trunks,
		Mutator: ovsdb.MutateOperationDelete,
		Value:   []int{vlanID},
	})
	if err != nil {
		return fmt.Errorf("failed to prepare trunk mutation: %w", err)
	}
	return c.transact(ctx, ops...)
}

// SetBridgeAccessMode makes the uplink carry untagged traffic only.
func (c *Client) SetBridgeAccessMode(ctx context.Context, bridgeName string) error {
	uplink, err := c.uplinkPort(ctx, bridgeName)
	if err != nil {
		return err
	}
	mode := VLANModeAccess
	uplink.Trunks = []int{}
	uplink.Tag = nil
	uplink.VLANMode = &mode
	ops, err := c.ovsClient.Where(uplink).Update(uplink, &uplink.Trunks, &uplink.Tag, &uplink.VLANMode)
	if err != nil {
		return fmt.Errorf("failed to prepare uplink update: %w", err)
	}
	return c.transact(ctx, ops...)
}

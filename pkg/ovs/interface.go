package ovs

const OvsInterfaceTable = "Interface"

// IfaceIDKey is the external_ids key holding the controller's port id.
const IfaceIDKey = "iface-id"

type Interface struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Type        string            `ovsdb:"type"` // "" for system devices, "internal", "patch", etc.
	ExternalIDs map[string]string `ovsdb:"external_ids"`
	MACInUse    *string           `ovsdb:"mac_in_use"`
}

// Package rpc carries the agent's traffic with the networking controller
// over NATS: request/reply calls to the plugin and fanout notifications
// pushed to every agent.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// APIVersion is the RPC API version spoken by this agent.
const APIVersion = "1.0"

const (
	TopicAgent   = "q-agent-notifier"
	TopicPlugin  = "plugin"
	TopicPort    = "port"
	TopicNetwork = "network"
	TopicTunnel  = "tunnel"

	OpUpdate = "update"
	OpDelete = "delete"
)

var (
	ErrUnknownMethod       = errors.New("unknown rpc method")
	ErrIncompatibleVersion = errors.New("incompatible rpc api version")
	ErrRemote              = errors.New("controller returned an error")
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Method  string          `json:"method"`
	Version string          `json:"version,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Reply is the controller's answer to a request.
type Reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func NewEnvelope(method string, args any) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s args: %w", method, err)
	}
	return json.Marshal(Envelope{Method: method, Version: APIVersion, Args: raw})
}

// TopicName builds a fanout topic such as "q-agent-notifier-port-update".
func TopicName(prefix, table, operation string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, table, operation)
}

// Subject qualifies a topic with the deployment's subject prefix.
func Subject(subjectPrefix, topic string) string {
	if subjectPrefix == "" {
		return topic
	}
	return subjectPrefix + "." + topic
}

// compatible reports whether a message of the given version can be handled:
// same major version and a minor version not newer than ours.
func compatible(version string) bool {
	if version == "" {
		return true
	}
	major, minor, ok := parseVersion(version)
	if !ok {
		return false
	}
	ourMajor, ourMinor, _ := parseVersion(APIVersion)
	return major == ourMajor && minor <= ourMinor
}

func parseVersion(version string) (int, int, bool) {
	majorStr, minorStr, found := strings.Cut(version, ".")
	if !found {
		minorStr = "0"
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, false
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

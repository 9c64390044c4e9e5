// Package config loads the agent configuration.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file named by --config (or VSWITCH_AGENT_CONFIG), and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cybercoder/vswitch-agent/pkg/logger"
	"github.com/cybercoder/vswitch-agent/pkg/ovs"
)

const EnvConfigPath = "VSWITCH_AGENT_CONFIG"

var (
	ErrInvalidPollingInterval = errors.New("polling_interval must be positive")
	ErrMissingLocalSwitch     = errors.New("local_network_vswitch must not be empty")
	ErrMissingOVSEndpoint     = errors.New("ovs endpoint must not be empty")
	ErrMissingNATSURL         = errors.New("controller nats_url must not be empty")
)

type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	OVS        OVSConfig        `yaml:"ovs"`
	Vnic       VnicConfig       `yaml:"vnic"`
	Controller ControllerConfig `yaml:"controller"`
	Logging    logger.Config    `yaml:"logging"`
}

type AgentConfig struct {
	// PhysicalNetworkMappings lists <physical_network>:<vswitch> entries.
	// Physical networks may use '*' wildcards, e.g. "*:external".
	PhysicalNetworkMappings []string `yaml:"physical_network_vswitch_mappings"`

	// LocalNetworkVswitch is the private vswitch used for local networks.
	LocalNetworkVswitch string `yaml:"local_network_vswitch"`

	// PollingInterval is the number of seconds between polls for local
	// device changes.
	PollingInterval int `yaml:"polling_interval"`

	// AgentID identifies this agent to the controller.
	// Default: vswitch_<hostname>
	AgentID string `yaml:"agent_id"`
}

func (a AgentConfig) PollingPeriod() time.Duration {
	return time.Duration(a.PollingInterval) * time.Second
}

type OVSConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type VnicConfig struct {
	// Netns is the namespace holding the vNIC links; empty means the
	// agent's own namespace.
	Netns      string `yaml:"netns"`
	LinkPrefix string `yaml:"link_prefix"`
}

type ControllerConfig struct {
	NATSURL       string        `yaml:"nats_url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	RPCTimeout    time.Duration `yaml:"rpc_timeout"`
}

func Default() Config {
	return Config{
		Agent: AgentConfig{
			LocalNetworkVswitch: "private",
			PollingInterval:     2,
		},
		OVS: OVSConfig{
			Endpoint: ovs.DefaultEndpoint,
		},
		Vnic: VnicConfig{
			LinkPrefix: "tap",
		},
		Controller: ControllerConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "quantum",
			RPCTimeout:    30 * time.Second,
		},
		Logging: logger.DefaultConfig(),
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// AddFlags binds flags to cfg. Flag defaults are cfg's current values, so
// flags that are not given leave cfg untouched.
func AddFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringSliceVar(&cfg.Agent.PhysicalNetworkMappings, "physical-network-vswitch-mappings", cfg.Agent.PhysicalNetworkMappings,
		"list of <physical_network>:<vswitch>; physical networks may use '*' wildcards")
	fs.StringVar(&cfg.Agent.LocalNetworkVswitch, "local-network-vswitch", cfg.Agent.LocalNetworkVswitch, "private vswitch used for local networks")
	fs.IntVar(&cfg.Agent.PollingInterval, "polling-interval", cfg.Agent.PollingInterval, "seconds between polls for local device changes")
	fs.StringVar(&cfg.Agent.AgentID, "agent-id", cfg.Agent.AgentID, "agent id reported to the controller (default vswitch_<hostname>)")
	fs.StringVar(&cfg.OVS.Endpoint, "ovs-endpoint", cfg.OVS.Endpoint, "OVSDB endpoint")
	fs.StringVar(&cfg.Vnic.Netns, "vnic-netns", cfg.Vnic.Netns, "network namespace path holding vNIC links")
	fs.StringVar(&cfg.Vnic.LinkPrefix, "vnic-link-prefix", cfg.Vnic.LinkPrefix, "name prefix of vNIC links")
	fs.StringVar(&cfg.Controller.NATSURL, "nats-url", cfg.Controller.NATSURL, "NATS URL of the controller message bus")
	fs.StringVar(&cfg.Controller.SubjectPrefix, "subject-prefix", cfg.Controller.SubjectPrefix, "NATS subject prefix")
	fs.DurationVar(&cfg.Controller.RPCTimeout, "rpc-timeout", cfg.Controller.RPCTimeout, "timeout of each controller request")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Logging.Debug, "debug", cfg.Logging.Debug, "enable debug logging")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "log format (json, console)")
}

// Load builds the configuration from defaults, the config file and args.
func Load(name string, args []string) (Config, error) {
	configPath := os.Getenv(EnvConfigPath)

	// First pass only locates the config file.
	scan := pflag.NewFlagSet(name, pflag.ContinueOnError)
	scan.ParseErrorsWhitelist.UnknownFlags = true
	scan.Usage = func() {}
	scan.StringVar(&configPath, "config", configPath, "")
	scan.BoolP("help", "h", false, "")
	throwaway := Default()
	AddFlags(scan, &throwaway)
	if err := scan.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return Config{}, err
	}

	cfg := Default()
	if configPath != "" {
		if err := LoadFile(configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", configPath, "path to the YAML config file (env "+EnvConfigPath+")")
	AddFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Agent.PollingInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidPollingInterval, c.Agent.PollingInterval))
	}
	if c.Agent.LocalNetworkVswitch == "" {
		errs = append(errs, ErrMissingLocalSwitch)
	}
	if c.OVS.Endpoint == "" {
		errs = append(errs, ErrMissingOVSEndpoint)
	}
	if c.Controller.NATSURL == "" {
		errs = append(errs, ErrMissingNATSURL)
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveAgentID fills in the default agent id from the hostname.
func (c *Config) ResolveAgentID() error {
	if c.Agent.AgentID != "" {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to determine hostname: %w", err)
	}
	c.Agent.AgentID = "vswitch_" + hostname
	return nil
}

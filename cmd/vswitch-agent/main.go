// vswitch-agent binds the vNICs of local VMs to Open vSwitch bridges
// according to the networking controller's view of their networks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cybercoder/vswitch-agent/pkg/agent"
	"github.com/cybercoder/vswitch-agent/pkg/config"
	"github.com/cybercoder/vswitch-agent/pkg/hypervisor"
	"github.com/cybercoder/vswitch-agent/pkg/logger"
	"github.com/cybercoder/vswitch-agent/pkg/net_utils"
	"github.com/cybercoder/vswitch-agent/pkg/ovs"
	"github.com/cybercoder/vswitch-agent/pkg/physnet"
	"github.com/cybercoder/vswitch-agent/pkg/rpc"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("vswitch-agent", os.Args[1:])
	if err != nil {
		return err
	}
	if err := cfg.ResolveAgentID(); err != nil {
		return err
	}
	root, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	root = root.With().Str("agent_id", cfg.Agent.AgentID).Logger()
	log := logger.Component(root, "agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ovsClient, err := ovs.CreateOVSClient(ctx, cfg.OVS.Endpoint, logger.Component(root, "ovs"))
	if err != nil {
		return err
	}
	defer ovsClient.Close()

	driver := hypervisor.NewDriver(
		net_utils.NewVnicLister(cfg.Vnic.Netns, cfg.Vnic.LinkPrefix),
		ovsClient,
		logger.Component(root, "hypervisor"),
	)
	mappings := physnet.New(cfg.Agent.PhysicalNetworkMappings, log)
	for _, rule := range mappings.Rules() {
		log.Info().Str("physical_network", rule.Pattern).Str("switch", rule.Switch).Msg("physical network mapping")
	}
	reconciler := agent.NewReconciler(mappings, cfg.Agent.LocalNetworkVswitch, driver, logger.Component(root, "reconciler"))

	rpcLog := logger.Component(root, "rpc")
	nc, err := rpc.Connect(cfg.Controller.NATSURL, cfg.Agent.AgentID, rpcLog)
	if err != nil {
		return err
	}
	defer nc.Close()

	dispatcher := rpc.NewDispatcher(reconciler, rpcLog)
	consumer, err := rpc.Consume(ctx, nc, cfg.Controller.SubjectPrefix, dispatcher, rpcLog)
	if err != nil {
		return err
	}
	rpcLog.Info().Strs("methods", dispatcher.Methods()).Msg("listening for controller notifications")
	defer func() {
		if err := consumer.Close(); err != nil {
			rpcLog.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}()

	loop := agent.NewLoop(agent.LoopConfig{
		Reconciler:      reconciler,
		Ports:           driver,
		Controller:      rpc.NewClient(nc, cfg.Controller.SubjectPrefix, cfg.Controller.RPCTimeout),
		AgentID:         cfg.Agent.AgentID,
		PollingInterval: cfg.Agent.PollingPeriod(),
		Logger:          logger.Component(root, "poller"),
	})

	log.Info().Msg("agent initialized successfully, now running")
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for _, networkID := range reconciler.NetworkIDs() {
		if b, ok := reconciler.Binding(networkID); ok {
			log.Info().Str("network_id", networkID).Str("switch", b.SwitchName).Strs("ports", b.PortIDs()).
				Msg("network left provisioned")
		}
	}
	log.Info().Msg("agent stopped")
	return nil
}

// Command papyrusd is the composition root: it loads configuration,
// constructs the network manager, registers the three SQMR protocols and
// the consensus broadcast topic, and runs the manager's event loop until
// signalled to stop. It is out of spec.md's scope as an external
// collaborator but is included as a thin, reachable entrypoint for the
// packages above (spec.md §1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/config"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/gossip"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/networkmanager"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
)

var logLevelFlag = &cli.StringFlag{
	Name:    "log-level",
	Value:   "info",
	Usage:   "minimum log level (trace, debug, info, warn, error)",
	EnvVars: []string{"PAPYRUS_LOG_LEVEL"},
}

func main() {
	app := &cli.App{
		Name:   "papyrusd",
		Usage:  "run the Starknet full node's p2p networking core",
		Flags:  []cli.Flag{logLevelFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "papyrusd",
		Level: hclog.LevelFromString(c.String("log-level")),
	})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := prometheus.NewRegistry()
	mgr, err := networkmanager.New(log, cfg, reg)
	if err != nil {
		return fmt.Errorf("construct network manager: %w", err)
	}
	defer mgr.Close()

	log.Info("local peer id", "id", mgr.LocalPeerID())

	for _, tag := range []protocol.Tag{protocol.SignedBlockHeader, protocol.StateDiff, protocol.Transaction} {
		if _, err := mgr.RegisterSQMRClient(tag); err != nil {
			return fmt.Errorf("register sqmr client %s: %w", tag, err)
		}
		if _, err := mgr.RegisterSQMRServer(tag); err != nil {
			return fmt.Errorf("register sqmr server %s: %w", tag, err)
		}
	}

	if _, err := mgr.RegisterBroadcast(gossip.ConsensusTopic, int(cfg.HeaderBufferSize)); err != nil {
		return fmt.Errorf("register broadcast topic %s: %w", gossip.ConsensusTopic, err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(ctx) })

	return g.Wait()
}

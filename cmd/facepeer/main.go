// Package main provides facepeer, a reference display peer that relays
// triggers between connected remotes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/config"
	"github.com/facecontrol/face-remote/internal/metrics"
	"github.com/facecontrol/face-remote/internal/peer"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "facepeer",
		Short: "facepeer - reference display peer",
		Long: `facepeer serves the display side of the face remote protocol.

Remotes connect on /ws, probe liveness with "ping", and every trigger key one
remote sends is relayed to all the others. POST /api/trigger fans a single
trigger out to every connected remote.`,
		SilenceUsage: true,
		RunE:         runPeer,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().String("host", "", "host to bind (overrides config)")
	rootCmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	rootCmd.Flags().Int("rate-limit", -1, "trigger POSTs per second per IP, 0 disables (overrides config)")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPeer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	rateLimit, _ := cmd.Flags().GetInt("rate-limit")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if host != "" {
		cfg.Peer.Host = host
	}
	if port > 0 {
		cfg.Peer.Port = port
	}
	if rateLimit >= 0 {
		cfg.Peer.RateLimit = rateLimit
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	m, err := metrics.NewWithConfig(cfg.Observability.HistoryRedisURL)
	if err != nil {
		log.WithError(err).Warn("trigger history is not persisted")
	}
	defer func() { _ = m.Close() }()

	rawBus, err := bus.New(cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	eventBus := bus.NewInstrumentedBus(rawBus, m)
	defer func() { _ = eventBus.Close() }()

	srv := peer.New(peer.ConfigFrom(cfg.Peer, version), log, eventBus, peer.WithMetrics(m))

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Received shutdown signal")
		return srv.Stop(context.Background())
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("facepeer %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

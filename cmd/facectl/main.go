// Package main provides facectl, the face remote console and one-shot sender.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/client"
	"github.com/facecontrol/face-remote/internal/config"
	apperrors "github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "facectl",
		Short: "facectl - remote control for the animated face display",
		Long: `facectl sends emotion triggers to the face display peer.

Run 'facectl remote' for the interactive console over a resilient channel.
Run 'facectl send KEY' to fire a single trigger over HTTP.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")
	rootCmd.PersistentFlags().String("peer", "", "peer host (overrides channel and HTTP URLs)")
	rootCmd.PersistentFlags().Bool("insecure", false, "use ws:// and http:// with --peer")

	rootCmd.AddCommand(
		remoteCmd(),
		sendCmd(),
		triggersCmd(),
		statusCmd(),
		eventsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and env, then applies global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	peer, _ := cmd.Flags().GetString("peer")
	insecure, _ := cmd.Flags().GetBool("insecure")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	if peer != "" {
		applyPeer(cfg, peer, insecure)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

// applyPeer points both transports at host.
func applyPeer(cfg *config.Config, host string, insecure bool) {
	ws, web := "wss", "https"
	if insecure {
		ws, web = "ws", "http"
	}
	cfg.Channel.URL = ws + "://" + host + "/ws"
	cfg.HTTP.BaseURL = web + "://" + host
}

func outputJSON(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send KEY|NAME",
		Short: "Send one trigger over HTTP",
		Long: `Send a single trigger to the peer's /api/trigger endpoint.

KEY is a catalog key (see 'facectl triggers') or a trigger name such as "happy".
Nothing is queued or retried: a failure is reported and the command exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			trigger, ok := catalog.Default.Resolve(args[0])
			if !ok {
				return apperrors.ValidationError(fmt.Sprintf("unknown trigger %q", args[0]))
			}

			eventBus, err := bus.New(cfg.Bus, log)
			if err != nil {
				return fmt.Errorf("failed to create event bus: %w", err)
			}
			defer func() { _ = eventBus.Close() }()

			c := client.New(client.ConfigFrom(cfg.HTTP), client.WithLogger(log), client.WithBus(eventBus))

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			resp, err := c.Send(ctx, trigger)
			if err != nil {
				return err
			}

			if outputJSON(cmd) {
				return printJSON(resp)
			}
			fmt.Printf("%s %s: Sent to %d client(s)\n", trigger.Emoji, trigger.Name, resp.Clients)
			return nil
		},
	}
	return cmd
}

func triggersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "List the trigger catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := catalog.Default.All()
			if outputJSON(cmd) {
				return printJSON(all)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tEMOJI\tNAME")
			for _, t := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Key, t.Emoji, t.Name)
			}
			return tw.Flush()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the peer's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			c := client.New(client.ConfigFrom(cfg.HTTP), client.WithLogger(log))
			health, err := c.Health(cmd.Context())
			if err != nil {
				if !outputJSON(cmd) {
					fmt.Println("Offline")
				}
				return err
			}

			if outputJSON(cmd) {
				return printJSON(health)
			}
			fmt.Printf("Peer:    %s\n", cfg.HTTP.BaseURL)
			fmt.Printf("Status:  %s\n", health.Status)
			if health.Version != "" {
				fmt.Printf("Version: %s\n", health.Version)
			}
			fmt.Printf("Clients: %d\n", health.Clients)
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded bus events",
		Long: `Print events from the event log written when bus.event_log_enabled is set.

Use --replay to publish them again on the configured bus, for example to feed
a Kafka or Redis consumer that missed a session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")
			replay, _ := cmd.Flags().GetBool("replay")

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			eventLog := bus.OpenEventLog(cfg.Bus.EventLogPath)

			if replay {
				target, err := bus.New(config.BusConfig{
					Type:         cfg.Bus.Type,
					KafkaBrokers: cfg.Bus.KafkaBrokers,
					KafkaGroup:   cfg.Bus.KafkaGroup,
					RedisURL:     cfg.Bus.RedisURL,
					TopicPrefix:  cfg.Bus.TopicPrefix,
				}, log)
				if err != nil {
					return fmt.Errorf("failed to create event bus: %w", err)
				}
				defer func() { _ = target.Close() }()

				n, err := eventLog.Replay(cmd.Context(), target, from)
				if err != nil {
					return err
				}
				fmt.Printf("Replayed %d event(s)\n", n)
				return nil
			}

			events, err := eventLog.GetEvents(from, limit)
			if err != nil {
				return err
			}
			if outputJSON(cmd) {
				return printJSON(events)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTOPIC\tSOURCE\tPAYLOAD")
			for _, e := range events {
				payload, _ := json.Marshal(e.Event.Payload)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.TimeOnly), e.Topic, e.Event.Source, payload)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Duration("since", 0, "only events newer than this (e.g. 10m)")
	cmd.Flags().Int("limit", 50, "maximum number of events (most recent)")
	cmd.Flags().Bool("replay", false, "publish the events on the configured bus instead of printing them")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("facectl %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

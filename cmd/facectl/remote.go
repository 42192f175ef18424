package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/channel"
	"github.com/facecontrol/face-remote/internal/client"
	"github.com/facecontrol/face-remote/internal/config"
	"github.com/facecontrol/face-remote/internal/metrics"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

func remoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Interactive remote over a resilient channel",
		Long: `Open a duplex channel to the display peer and read triggers from stdin.

Type a key or trigger name to send it. Keys typed while the peer is
unreachable are queued (newest 10 kept) and flushed in order on reconnect.
Triggers received from other remotes are printed as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				cfg.Observability.MetricsEnabled = true
				cfg.Observability.MetricsAddr = addr
			}
			return runRemote(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().String("metrics-addr", "", "serve /metrics on this address (e.g. :9090)")

	return cmd
}

func runRemote(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(parent, shutdownSignals...)
	defer stop()

	m, err := metrics.NewWithConfig(cfg.Observability.HistoryRedisURL)
	if err != nil {
		log.WithError(err).Warn("trigger history is not persisted")
	}
	defer func() { _ = m.Close() }()

	rawBus, err := bus.New(cfg.Bus, log)
	if err != nil {
		return err
	}
	eventBus := bus.NewInstrumentedBus(rawBus, m)
	defer func() { _ = eventBus.Close() }()

	if err := metrics.NewEventSubscriber(m, eventBus).SubscribeToEvents(ctx); err != nil {
		return err
	}

	keys := catalog.Default
	remote := channel.New(
		channel.ConfigFrom(cfg.Channel),
		channel.NewWebSocketDialer(cfg.Channel.DialTimeout, cfg.Channel.WriteTimeout),
		channel.WithLogger(log),
		channel.WithBus(eventBus),
		channel.WithMetrics(m),
		channel.WithKeySet(keys),
	)
	defer remote.Shutdown()

	oneShot := client.New(client.ConfigFrom(cfg.HTTP), client.WithLogger(log), client.WithBus(eventBus))

	out := &printer{out: os.Stdout}
	remote.OnStateChange(func(ev channel.StateEvent) {
		out.printf("* %s\n", renderStateEvent(ev))
	})
	remote.OnTriggerReceived(func(key string) {
		out.printf("<- %s\n", renderTrigger(keys, key))
	})
	remote.OnQueueDepthChange(func(depth int) {
		if depth > 0 {
			out.printf("  %d queued\n", depth)
		}
	})

	out.printf("facectl %s -> %s\n%s", version, cfg.Channel.URL, renderCatalog(keys))
	remote.Connect()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Observability.MetricsEnabled {
		srv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("Serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer remote.Shutdown()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-remote.Done():
				return errConsoleClosed
			case line, ok := <-lines:
				if !ok {
					return errConsoleClosed
				}
				if quit := handleLine(gctx, line, remote, oneShot, keys, out); quit {
					return errConsoleClosed
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errConsoleClosed) {
		return err
	}
	<-remote.Done()
	return nil
}

// errConsoleClosed ends the errgroup when the user quits or stdin closes.
var errConsoleClosed = errors.New("console closed")

func handleLine(ctx context.Context, line string, remote *channel.Client, oneShot *client.Client, keys *catalog.Catalog, out *printer) bool {
	cmd := parseCommand(line)
	switch cmd.kind {
	case cmdQuit:
		return true
	case cmdReconnect:
		remote.ForceReconnect()
	case cmdStatus:
		out.printf("%s\n", renderStatus(remote.Status(), time.Now()))
	case cmdList:
		out.printf("%s", renderCatalog(keys))
	case cmdTrigger:
		key := resolveKey(keys, cmd.arg)
		remote.Dispatch(key)
		out.printf("-> %s\n", renderTrigger(keys, key))
	case cmdOneShot:
		t, ok := keys.Resolve(cmd.arg)
		if !ok {
			out.printf("unknown trigger %q\n", cmd.arg)
			return false
		}
		out.printf("Sending...\n")
		resp, err := oneShot.Send(ctx, t)
		if err != nil {
			out.printf("Offline: %v\n", err)
			return false
		}
		out.printf("Sent to %d client(s)\n", resp.Clients)
	}
	return false
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /metrics/history", m.HistoryHandler())
	return metrics.HTTPMiddleware(m, mux)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/focusgate/focusgate/internal/api"
	"github.com/focusgate/focusgate/internal/config"
	"github.com/focusgate/focusgate/internal/logger"
	"github.com/focusgate/focusgate/internal/notify"
	"github.com/focusgate/focusgate/internal/pool"
	"github.com/focusgate/focusgate/internal/recovery"
	"github.com/focusgate/focusgate/internal/remote"
	"github.com/focusgate/focusgate/internal/rules"
	"github.com/focusgate/focusgate/internal/session"
	"github.com/focusgate/focusgate/internal/storage"
	syncer "github.com/focusgate/focusgate/internal/sync"
	"github.com/focusgate/focusgate/internal/token"
	"github.com/focusgate/focusgate/internal/tracker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "focusgate",
		Short: "Focus session controller with host-level site blocking",
	}

	root.AddCommand(
		runCmd(),
		recoverCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the controller daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("focusgate starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	signer, err := token.NewSigner(cfg.TokenSigningSecret)
	if err != nil {
		return fmt.Errorf("init token signer: %w", err)
	}

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL:    cfg.RemoteURL,
		Subject:    cfg.TokenSubject,
		TokenTTL:   cfg.TokenTTL,
		VerifyTLS:  cfg.RemoteVerifyTLS,
		CACertPath: cfg.RemoteCACert,
		Timeout:    cfg.RemoteHTTPTimeout,
		Debug:      cfg.RemoteAPIDebug,
	}, signer, log)
	if err != nil {
		return fmt.Errorf("init remote client: %w", err)
	}

	var engine rules.Engine
	if cfg.DryRun {
		engine = rules.NewDryRunEngine(log)
	} else {
		engine = rules.NewHTTPEngine(rules.EngineConfig{
			BaseURL: cfg.RuleEngineURL,
			Timeout: cfg.RuleEngineHTTPTimeout,
			Debug:   cfg.RemoteAPIDebug,
		}, log)
	}
	synth := rules.NewSynthesizer(rules.SynthConfig{
		IDStart:     cfg.RuleIDStart,
		Cap:         cfg.RuleCap,
		RedirectURL: cfg.BlockRedirectURL,
	}, engine, log)

	broker := notify.NewBroker(log)
	machine := session.New(session.Config{
		MinDuration: time.Duration(cfg.SessionMinMinutes) * time.Minute,
	}, store, synth, broker, log)

	workerPool, err := pool.New(pool.Config{
		Workers:    cfg.PoolWorkers,
		QueueDepth: cfg.PoolQueueDepth,
		MaxRetries: cfg.PoolMaxRetries,
		RetryBase:  cfg.PoolRetryBase,
	}, syncer.MakeJobHandler(client, log), log)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	coordinator := recovery.New(recovery.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		WakeAlarmInterval: cfg.WakeAlarmInterval,
	}, store, machine, workerPool, log)

	refresher := syncer.NewRefresher(client, store, machine, cfg.SyncInterval, log)

	aggregator := tracker.New(tracker.Config{
		TickInterval:  cfg.TickInterval,
		FlushInterval: cfg.FlushInterval,
	}, store, broker, log)

	apiSrv := api.New(cfg.APIAddr, machine, store, workerPool, aggregator, broker, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	workerPool.Start(gctx)

	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { return aggregator.Run(gctx) })
	g.Go(func() error { return apiSrv.Run(gctx) })
	g.Go(func() error { return serveHealth(gctx, cfg, client, log) })

	if cfg.MetricsEnabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, log) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	workerPool.Stop()
	return nil
}

// recoverCmd runs one recovery pass against the durable state and exits.
// Meant for wake hooks and boot units that fire outside the daemon.
func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run a one-shot recovery pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			log := buildLogger(cfg)

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			var engine rules.Engine
			if cfg.DryRun {
				engine = rules.NewDryRunEngine(log)
			} else {
				engine = rules.NewHTTPEngine(rules.EngineConfig{
					BaseURL: cfg.RuleEngineURL,
					Timeout: cfg.RuleEngineHTTPTimeout,
				}, log)
			}
			synth := rules.NewSynthesizer(rules.SynthConfig{
				IDStart:     cfg.RuleIDStart,
				Cap:         cfg.RuleCap,
				RedirectURL: cfg.BlockRedirectURL,
			}, engine, log)

			machine := session.New(session.Config{
				MinDuration: time.Duration(cfg.SessionMinMinutes) * time.Minute,
			}, store, synth, nil, log)

			coordinator := recovery.New(recovery.Config{
				HeartbeatInterval: cfg.HeartbeatInterval,
				WakeAlarmInterval: cfg.WakeAlarmInterval,
			}, store, machine, nil, log)

			if err := coordinator.Recover(context.Background()); err != nil {
				return err
			}
			info := machine.Query()
			fmt.Printf("recovery complete: status=%s\n", info.Status)
			return nil
		},
	}
}

// healthcheckCmd exits 0 if the daemon's health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("focusgate %s\n", Version)
		},
	}
}

// serveMetrics runs the Prometheus HTTP server.
func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", addr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoint.
func serveHealth(ctx context.Context, cfg *config.Config, client remote.Client, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := client.Ping(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/GabrielHori/horizon-worker/internal/audit"
	"github.com/GabrielHori/horizon-worker/internal/codec"
	"github.com/GabrielHori/horizon-worker/internal/config"
	"github.com/GabrielHori/horizon-worker/internal/convstore"
	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/dispatch"
	"github.com/GabrielHori/horizon-worker/internal/guard"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/llm"
	"github.com/GabrielHori/horizon-worker/internal/llm/ollama"
	"github.com/GabrielHori/horizon-worker/internal/llm/sidecar"
	"github.com/GabrielHori/horizon-worker/internal/memory"
	"github.com/GabrielHori/horizon-worker/internal/modelsvc"
	"github.com/GabrielHori/horizon-worker/internal/project"
	"github.com/GabrielHori/horizon-worker/internal/ratelimit"
	"github.com/GabrielHori/horizon-worker/internal/remote"
	"github.com/GabrielHori/horizon-worker/internal/settings"
	"github.com/GabrielHori/horizon-worker/internal/stream"
	"github.com/GabrielHori/horizon-worker/internal/sysstats"
	"github.com/GabrielHori/horizon-worker/internal/telemetry"
	"github.com/GabrielHori/horizon-worker/internal/websearch"
	"github.com/GabrielHori/horizon-worker/internal/worker"
)

const saltFileName = "user_salt.bin"

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logs := sysstats.NewLogRingBuffer(cfg.SysStats.LogBufferCapacity)
	setupLogging(cfg.Logging.Level, logs)

	slog.Info("starting horizon-worker", "version", version)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.ConfigDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.Paths.DataDir, "keys"), 0o700); err != nil {
		return fmt.Errorf("create keys dir: %w", err)
	}

	keys := crypto.NewKeyStore()

	convos, err := convstore.New(filepath.Join(cfg.Paths.DataDir, "history"), keys)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	memories, err := memory.New(filepath.Join(cfg.Paths.DataDir, "memory"), keys)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	projects, err := project.New(filepath.Join(cfg.Paths.DataDir, "projects"), keys, convos.CountByProject)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	settingsStore, err := settings.New(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}

	g := guard.New()
	limiter := ratelimit.NewSlidingLimiter()
	allowlist := remote.NewAllowlist()
	if err := config.Bootstrap(cfg, g, limiter, allowlist); err != nil {
		return fmt.Errorf("bootstrap config: %w", err)
	}

	dnsResolver := &dnscache.Resolver{}
	go refreshDNSCache(dnsResolver)

	ollamaClient := ollama.New(cfg.Ollama.BaseURL, dnsResolver)
	sidecarSup := sidecar.New(sidecar.ExecLauncher{
		BinaryPath: cfg.Sidecar.BinaryPath,
		Args:       cfg.Sidecar.Args,
	}).WithTimeouts(cfg.Sidecar.LoadTimeout(), sidecar.DefaultGenerationTimeout)
	sidecarProvider := sidecar.NewProvider(sidecarSup)

	web := websearch.New()
	cancel := stream.NewCancelFlag()

	chat := &llm.Handler{
		Convos:   convos,
		Memory:   memories,
		Web:      web,
		Settings: settingsStore,
		Providers: map[string]llm.Provider{
			llm.ProviderOllama: ollamaClient,
			llm.ProviderAirLLM: sidecarProvider,
		},
		Cancel: cancel,
	}

	remoteProviders := map[string]llm.Provider{
		llm.ProviderOllama: ollamaClient,
		llm.ProviderAirLLM: sidecarProvider,
	}
	for name, p := range buildCloudProviders(cfg.CloudProviders, dnsResolver) {
		remoteProviders[name] = p
	}
	remoteChat := &llm.Handler{
		Convos:    convos,
		Memory:    memories,
		Web:       web,
		Settings:  settingsStore,
		Providers: remoteProviders,
		Cancel:    cancel,
	}

	tunnelDir := filepath.Join(cfg.Paths.DataDir, "tunnel")
	tokens, err := remote.NewTokenStore(tunnelDir, keys)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	tunnel, err := remote.NewTunnel(tunnelDir, nil)
	if err != nil {
		return fmt.Errorf("open tunnel: %w", err)
	}

	collector := sysstats.New(cfg.Paths.DataDir, sysstats.NoGPU{})
	auditWriter := audit.NewWriter(filepath.Join(cfg.Paths.DataDir, "audit"))

	d := &deps{
		cfg:          cfg,
		guard:        g,
		limiter:      limiter,
		keys:         keys,
		convos:       convos,
		memories:     memories,
		projects:     projects,
		settings:     settingsStore,
		modelsRunner: modelsvc.ExecRunner{},
		sidecarSup:   sidecarSup,
		chat:         chat,
		web:          web,
		collector:    collector,
		logs:         logs,
		cancel:       cancel,
		tokens:       tokens,
		allowlist:    allowlist,
		tunnel:       tunnel,
		sandboxRoot:  filepath.Join(cfg.Paths.DataDir, "repo_sandbox"),
		saltPath:     filepath.Join(cfg.Paths.DataDir, "keys", saltFileName),
	}

	registry := dispatch.New(g, limiter, buildHandlers(d))

	cdc := codec.New(os.Stdin, os.Stdout)

	remoteSrv := &http.Server{
		Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Remote.Port),
		Handler: remote.New(remote.Deps{
			Tokens:      tokens,
			Allowlist:   allowlist,
			RateLimiter: limiter,
			Convos:      convos,
			Models:      func(ctx context.Context) ([]modelsvc.Model, error) { return modelsvc.List(ctx, modelsvc.ExecRunner{}) },
			Chat:        remoteChat,
			PerIPLimit:  cfg.Remote.PerIPLimitRPM,
		}),
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var metrics *telemetry.Metrics
	var metricsSrv *http.Server
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
		registry.SetMetrics(metrics)

		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.TraceSampleRate)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		tracingShutdown = shutdown

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
		slog.Info("metrics exposed", "addr", cfg.Telemetry.MetricsAddr)
	}

	runner := worker.NewRunner(telemetry.NewPusher(cdc, collector, logs), auditWriter)
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(ctx) }()

	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := limiter.EvictStale(time.Now().Add(-time.Hour)); n > 0 {
					slog.Info("rate limiter eviction", "evicted", n)
				}
			}
		}
	}()

	remoteErrCh := make(chan error, 1)
	go func() {
		if err := remoteSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			remoteErrCh <- err
			return
		}
		close(remoteErrCh)
	}()
	slog.Info("remote-access surface listening", "addr", remoteSrv.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		readLoop(ctx, cdc, registry, auditWriter, metrics, stop)
	}()

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-remoteErrCh:
		stop()
		return err
	case <-loopDone:
		slog.Info("stdin closed or shutdown requested, stopping")
	}

	stop()
	tunnel.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := remoteSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("remote server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	<-loopDone
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	slog.Info("horizon-worker stopped")
	return nil
}

// readLoop sequentially reads and dispatches requests until stdin is
// exhausted or ctx is cancelled, matching
// original_source/worker/main.py's Worker.run(): synchronous dispatch for
// ordinary commands, a background goroutine plus an immediate
// "streaming_started" acknowledgement for streaming ones. Every dispatch
// outcome is also recorded to auditWriter (spec.md's ambient audit log,
// append-only, never read back here).
func readLoop(ctx context.Context, cdc *codec.Codec, registry *dispatch.Registry, auditWriter *audit.Writer, metrics *telemetry.Metrics, stop context.CancelFunc) {
	pump := stream.New(cdc).SetMetrics(metrics)
	const clientID = "local-ipc"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := cdc.ReadRequest()
		if err != nil {
			return
		}
		if req.ID == "" || req.Cmd == "" {
			continue
		}

		result, err := registry.Dispatch(ctx, req, clientID)
		if err != nil {
			envelope := &horizon.ErrorEnvelope{Code: horizon.CodeCmdErr, Message: err.Error()}
			if de, ok := dispatch.AsError(err); ok {
				envelope = de.Envelope()
			}
			auditWriter.Record(audit.Event{Timestamp: time.Now(), Cmd: req.Cmd, ClientID: clientID, Outcome: audit.OutcomeError, Detail: err.Error()})
			_ = cdc.WriteResponse(horizon.Response{ID: req.ID, Status: horizon.StatusError, Error: envelope})
			continue
		}
		auditWriter.Record(audit.Event{Timestamp: time.Now(), Cmd: req.Cmd, ClientID: clientID, Outcome: audit.OutcomeOK})

		if result.Stream != nil {
			_ = cdc.WriteResponse(horizon.Response{ID: req.ID, Status: horizon.StatusOK, Data: map[string]any{"status": "streaming_started"}})
			go pump.Run(ctx, req.ID, req.Cmd, result.Stream)
		} else {
			_ = cdc.WriteResponse(horizon.Response{ID: req.ID, Status: horizon.StatusOK, Data: result.Value})
		}

		if req.Cmd == horizon.CmdShutdown {
			stop()
			return
		}
	}
}

func refreshDNSCache(r *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		r.Refresh(true)
	}
}

func setupLogging(level string, ring *sysstats.LogRingBuffer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(sysstats.NewTeeHandler(inner, ring)))
}

// loadOrCreateSalt returns the 16-byte PBKDF2 salt persisted at path,
// creating one on first use. The salt is not secret (spec.md §3's
// encryption section only requires the derived key stay in memory); it
// must simply stay stable across restarts so the same password re-derives
// the same master key.
func loadOrCreateSalt(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) == 16 {
		return b, nil
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

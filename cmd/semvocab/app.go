package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semvocab/config"
	"github.com/c360studio/semvocab/metrics"
	"github.com/c360studio/semvocab/notify"
	"github.com/c360studio/semvocab/provisional"
	"github.com/c360studio/semvocab/service"
	"github.com/c360studio/semvocab/storage"
)

// eventStream is the JetStream stream holding snapshot events.
const eventStream = "SEMVOCAB"

// App wires the configured infrastructure around a Service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS (nil when no URL is configured)
	natsClient *natsclient.Client

	backend storage.Backend
	metrics *metrics.Metrics
	svc     *service.Service
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger, metrics: metrics.New()}
}

// Start connects to NATS when configured, opens the provisional store and
// loads the vocabulary service.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.NATS.URL != "" {
		client, err := connectToNATS(ctx, a.cfg.NATS.URL, a.logger)
		if err != nil {
			return err
		}
		a.natsClient = client
		if err := a.ensureEventStream(ctx); err != nil {
			return err
		}
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("open provisional store: %w", err)
	}
	a.backend = backend

	var publisher notify.StreamPublisher
	if a.natsClient != nil {
		publisher = a.natsClient
	}

	svc, err := service.New(ctx, service.Config{
		SnapshotPath:      a.cfg.Vocab.SnapshotPath,
		SavePath:          a.cfg.Vocab.SavePath,
		AxiomDir:          a.cfg.Axioms.Dir,
		AxiomPattern:      a.cfg.Axioms.Pattern,
		SchemaDir:         a.cfg.Schemas.Dir,
		SchemaPattern:     a.cfg.Schemas.Pattern,
		Store:             provisional.NewStore(backend),
		ProvisionalPrefix: a.cfg.Vocab.ProvisionalPrefix,
		Notifier:          notify.New(publisher, a.cfg.NATS.Subject, a.logger),
		Metrics:           a.metrics,
		EvalCacheSize:     a.cfg.EvalCache.Size,
		Logger:            a.logger,
	})
	if err != nil {
		return err
	}
	a.svc = svc
	return nil
}

func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendBolt:
		return storage.OpenBolt(a.cfg.Storage.BoltPath, a.cfg.Storage.Bucket)
	case config.BackendNATS:
		if a.natsClient == nil {
			return nil, errors.New("nats storage requires nats.url")
		}
		js, err := a.natsClient.JetStream()
		if err != nil {
			return nil, fmt.Errorf("get JetStream context: %w", err)
		}
		return storage.NewKV(ctx, js, a.cfg.Storage.Bucket)
	default:
		return storage.NewMemory(), nil
	}
}

func (a *App) ensureEventStream(ctx context.Context) error {
	js, err := a.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     eventStream,
		Subjects: []string{a.cfg.NATS.Subject},
		MaxAge:   24 * time.Hour,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", eventStream, err)
	}
	a.logger.Debug("JetStream stream ready", "stream", eventStream, "subject", a.cfg.NATS.Subject)
	return nil
}

// Run serves metrics and watches for file changes until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	running := 0

	if a.cfg.Metrics.Listen != "" {
		running++
		go func() { errCh <- a.metrics.Serve(ctx, a.cfg.Metrics.Listen, a.logger) }()
	}
	if a.cfg.Watch.Enabled {
		running++
		go func() { errCh <- a.svc.Watch(ctx, a.cfg.Watch.Debounce) }()
	}

	var firstErr error
	for running > 0 {
		select {
		case err := <-errCh:
			running--
			if err != nil && firstErr == nil {
				firstErr = err
				a.logger.Error("Background task failed", "error", err)
			}
		case <-ctx.Done():
			return firstErr
		}
	}
	<-ctx.Done()
	return firstErr
}

// Shutdown saves the snapshot when configured and releases resources.
func (a *App) Shutdown(timeout time.Duration) {
	if a.svc != nil {
		if err := a.svc.Save(); err != nil {
			a.logger.Error("Failed to save vocabulary", "error", err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("Failed to close provisional store", "error", err)
		}
	}
	if a.natsClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.natsClient.Close(ctx); err != nil {
			a.logger.Warn("Failed to close NATS client", "error", err)
		}
	}
}

func connectToNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName("semvocab"),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return client, nil
}

// wrapNATSError provides guidance when the NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start a server or unset SEMVOCAB_NATS_URL to run without event publishing
(storage.backend must then be memory or bolt).`, err, url)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"TopicPulse/internal/aggregate"
	"TopicPulse/internal/artifact"
	"TopicPulse/internal/config"
	"TopicPulse/internal/decomposer"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/infrastructure/events"
	"TopicPulse/internal/infrastructure/htmlsearch"
	"TopicPulse/internal/infrastructure/llm"
	"TopicPulse/internal/infrastructure/ml"
	"TopicPulse/internal/infrastructure/render"
	"TopicPulse/internal/infrastructure/scheduler"
	"TopicPulse/internal/infrastructure/storage"
	"TopicPulse/internal/infrastructure/telegram"
	"TopicPulse/internal/logging"
	"TopicPulse/internal/metrics"
	"TopicPulse/internal/ports"
	"TopicPulse/internal/retry"
	"TopicPulse/internal/search"
	"TopicPulse/internal/stream"
	"TopicPulse/internal/transport/httpapi"
	"TopicPulse/internal/transport/ws"
	"TopicPulse/internal/usecase"
	"TopicPulse/internal/worker"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	controller *usecase.Controller
	dispatcher *stream.Dispatcher
	server     *httpapi.Server
	janitor    *usecase.Janitor
	closers    []func() error
}

// New connects the configured backends and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger.With("component", "app")}
	p := cfg.Pipeline
	callTimeout := p.CallTimeout.D()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	store, closeStore, err := storage.Open(ctx, cfg.Storage, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	var mirror ports.EnvelopeMirror
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, baseLogger)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.closers = append(a.closers, nc.Drain)
		mirror = events.NewNATSMirror(nc, cfg.NATS.SubjectPrefix)
	}

	policy := retry.Policy{
		MaxRetries: p.MaxRetries,
		BaseDelay:  p.BackoffBase.D(),
		MaxDelay:   p.BackoffMax.D(),
		Multiplier: 2,
		Jitter:     true,
	}

	chat := llm.NewChatGPTClient(cfg.ChatGPT, callTimeout)
	var extractor ports.Extractor
	var summarizer ports.Summarizer
	if chat.Configured() {
		extractor = chat
		if cfg.ChatGPT.Summaries {
			summarizer = chat
		}
	} else {
		a.logger.Info("chatgpt is not configured, using rule-based extraction")
	}

	dec := decomposer.New(decomposer.Deps{
		Extractor: extractor,
		Limits: decomposer.Limits{
			DefaultResultsPerEntity: p.DefaultResultsPerEntity,
			MaxResultsPerEntity:     p.MaxResultsPerEntity,
			MaxEntities:             p.MaxEntities,
			DefaultWindowDays:       p.DefaultWindowDays,
			MaxWindowDays:           p.MaxWindowDays,
		},
		Retry:  policy,
		Logger: baseLogger.With("component", "decomposer"),
	})

	registry := search.NewRegistry()
	for _, provider := range htmlsearch.NewProviders(cfg.Search, callTimeout) {
		registry.Register(provider)
	}
	if registry.Len() == 0 {
		a.logger.Warn("no search sites configured, every entity will fail")
	}

	agg := aggregate.New(p.TrimFraction)
	pool := worker.New(worker.Config{
		GlobalLimit:   p.GlobalConcurrencyLimit,
		SearchLimit:   p.SearchConcurrency,
		ScoreLimit:    p.ScoreConcurrency,
		EntityWorkers: p.EntityWorkers,
		CallTimeout:   callTimeout,
		BatchSize:     p.ScoreBatchSize,
		Retry:         policy,
	}, worker.Deps{
		Searcher:   search.NewFanOut(registry, baseLogger),
		Scorer:     ml.NewScorer(cfg.ML, callTimeout),
		Aggregator: agg,
		Catalog:    aggregate.NewCatalog(cfg.Sources),
		Metrics:    collector,
		Logger:     baseLogger.With("component", "worker"),
	})

	// the dispatcher asks the controller for snapshots; both exist before any client attaches
	var controller *usecase.Controller
	dispatcher := stream.New(stream.Config{
		ReplayBufferSize:  cfg.Stream.ReplayBufferSize,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval.D(),
		PongGrace:         cfg.Stream.PongGrace.D(),
		OutboxSize:        cfg.Stream.OutboxSize,
		WriteTimeout:      cfg.Stream.WriteTimeout.D(),
	}, stream.Deps{
		Snapshot: func(id string) (domain.Job, bool) { return controller.Snapshot(id) },
		Mirror:   mirror,
		Metrics:  collector,
		Logger:   baseLogger,
	})

	var producer ports.ArtifactProducer
	if cfg.Artifacts.RendererURL != "" {
		producer = render.NewClient(cfg.Artifacts, callTimeout)
	}
	kinds := make([]domain.ArtifactKind, 0, len(cfg.Artifacts.Kinds))
	for _, k := range cfg.Artifacts.Kinds {
		kinds = append(kinds, domain.ArtifactKind(k))
	}

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram); tg.Configured() {
		notifier = tg
	}

	controller = usecase.NewController(usecase.ControllerDeps{
		Decomposer:        dec,
		Pool:              pool,
		Aggregator:        agg,
		Publisher:         dispatcher,
		Artifacts:         artifact.NewRegistry(dispatcher, baseLogger),
		Producer:          producer,
		ArtifactKinds:     kinds,
		MinScoredEntities: cfg.Artifacts.MinScoredEntities,
		Store:             store,
		Summarizer:        summarizer,
		Notifier:          notifier,
		Metrics:           collector,
		Logger:            baseLogger.With("component", "controller"),
		CancelGrace:       p.CancelGrace.D(),
		CallTimeout:       callTimeout,
	})

	server, err := httpapi.NewServer(httpapi.Deps{
		Jobs:    controller,
		Stream:  ws.NewHandler(dispatcher, cfg.Stream.WriteTimeout.D(), baseLogger),
		Metrics: collector,
		Logger:  baseLogger,
	}, cfg.Server)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.controller = controller
	a.dispatcher = dispatcher
	a.server = server
	a.janitor = usecase.NewJanitor(scheduler.NewIntervalScheduler(cfg.Janitor.Interval.D()), controller, cfg.Janitor.Retention.D(), baseLogger)
	return a, nil
}

// Controller exposes the job controller for in-process clients.
func (a *Application) Controller() *usecase.Controller {
	return a.controller
}

// Dispatcher exposes the envelope dispatcher for in-process clients.
func (a *Application) Dispatcher() *stream.Dispatcher {
	return a.dispatcher
}

// Run serves HTTP and runs the janitor until ctx is cancelled, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	if err := a.janitor.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close stops background work, running jobs and backend connections.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.janitor != nil {
		errs = append(errs, a.janitor.Stop(ctx))
	}
	if a.controller != nil {
		errs = append(errs, a.controller.Shutdown(ctx))
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	errs = append(errs, a.closeAll())
	a.logger.Info("application stopped")
	return errors.Join(errs...)
}

func (a *Application) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) shutdownTimeout() time.Duration {
	if d := a.cfg.Server.ShutdownTimeout.D(); d > 0 {
		return d
	}
	return 15 * time.Second
}

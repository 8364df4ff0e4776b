package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/config"
	"github.com/c360studio/paperforge/embed"
	"github.com/c360studio/paperforge/events"
	"github.com/c360studio/paperforge/index"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/metrics"
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/paper"
	"github.com/c360studio/paperforge/reflect"
	"github.com/c360studio/paperforge/signal"
	"github.com/c360studio/paperforge/synth"
	"github.com/c360studio/paperforge/workspace"
)

// appOptions carry CLI flags into app construction.
type appOptions struct {
	configPath  string
	paperDir    string
	workspace   string
	maxAttempts int
	metricsAddr string
	modelPins   []string
}

// App wires the pipeline components from configuration.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *model.Registry
	client     *llm.Client
	embedder   *embed.Client
	loader     *paper.Loader
	metrics    *metrics.Set
	metricsSrv *http.Server
	publisher  *events.Publisher
}

// newApp builds the shared component stack used by every subcommand.
func newApp(opts appOptions, logger *slog.Logger) (*App, error) {
	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.configPath != "" {
		fileCfg, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
		}
		cfg.Merge(fileCfg)
	}

	// Flags override file configuration.
	if opts.paperDir != "" {
		cfg.Paper.Dir = opts.paperDir
	}
	if opts.workspace != "" {
		cfg.Workspace.Dir = opts.workspace
	}
	if opts.maxAttempts > 0 {
		cfg.Reflection.MaxAttempts = opts.maxAttempts
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry, err := buildRegistry(cfg, opts.modelPins)
	if err != nil {
		return nil, err
	}

	var m *metrics.Set
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		m = metrics.NewDefault()
		metricsSrv = metrics.Serve(cfg.Metrics.Addr)
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	publisher, err := events.Connect(cfg.Events, logger)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(registry,
		llm.WithLogger(logger),
		llm.WithMetrics(m),
		llm.WithTimeout(cfg.Models.Timeout),
	)
	embedder := embed.NewClient(embed.Config{
		URL:        cfg.Embedding.URL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	}, embed.WithLogger(logger))

	return &App{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		client:     client,
		embedder:   embedder,
		loader:     paper.NewLoader(cfg.Paper.Dir, paper.WithLogger(logger)),
		metrics:    m,
		metricsSrv: metricsSrv,
		publisher:  publisher,
	}, nil
}

// Close releases background resources.
func (a *App) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(ctx)
	}
	a.publisher.Close()
}

// buildRegistry loads the model registry and applies per-capability pins
// of the form "capability=endpoint".
func buildRegistry(cfg *config.Config, pins []string) (*model.Registry, error) {
	var registry *model.Registry
	if cfg.Models.RegistryPath != "" {
		var err error
		registry, err = model.LoadFromFile(cfg.Models.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("load model registry: %w", err)
		}
	} else {
		registry = model.NewDefaultRegistry()
	}

	for _, pin := range pins {
		capName, endpoint, ok := strings.Cut(pin, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --model pin %q (want capability=endpoint)", pin)
		}
		c := model.ParseCapability(capName)
		if !c.IsValid() {
			return nil, fmt.Errorf("unknown capability %q in --model pin", capName)
		}
		if registry.GetEndpoint(endpoint) == nil {
			return nil, fmt.Errorf("unknown endpoint %q in --model pin", endpoint)
		}
		registry.PinCapability(c, endpoint)
	}
	return registry, nil
}

// openStore opens the workspace for one paper.
func (a *App) openStore(paperID string, replace bool) (*workspace.Store, error) {
	return workspace.Open(a.cfg.Workspace.Dir, paperID, replace,
		workspace.WithLogger(a.logger))
}

// loadPaper resolves and chunks the paper source.
func (a *App) loadPaper(paperID string) (*paper.Paper, error) {
	p, err := a.loader.Load(paperID)
	if err != nil {
		return nil, fmt.Errorf("load paper %s: %w", paperID, err)
	}
	a.publisher.Publish(events.TypePaperLoaded, paperID, map[string]any{
		"title":  p.Title,
		"chunks": len(p.Chunks),
	})
	return p, nil
}

// designSignals builds the retrieval index and designs the signal set.
func (a *App) designSignals(ctx context.Context, p *paper.Paper, store *workspace.Store) (*signal.Set, error) {
	ix := index.New(a.embedder,
		index.WithLogger(a.logger),
		index.WithConcurrency(a.cfg.Reflection.Concurrency))
	if err := ix.Build(ctx, p); err != nil {
		return nil, fmt.Errorf("build paper index: %w", err)
	}

	designer := signal.NewDesigner(a.client, a.embedder, ix, a.cfg.Signals,
		signal.WithLogger(a.logger),
		signal.WithMetrics(a.metrics))
	set, err := designer.Design(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("design signals: %w", err)
	}

	if err := store.SaveSignals(set); err != nil {
		return nil, fmt.Errorf("save signals: %w", err)
	}
	a.publisher.Publish(events.TypeSignalsDesigned, p.ID, map[string]any{
		"signals": len(set.Signals),
	})
	return set, nil
}

// loadOrDesignSignals reuses a frozen signal set when one exists.
func (a *App) loadOrDesignSignals(ctx context.Context, p *paper.Paper, store *workspace.Store) (*signal.Set, error) {
	set, err := store.LoadSignals()
	if err == nil {
		a.logger.Info("reusing frozen signal set", "signals", len(set.Signals))
		return set, nil
	}
	if !errors.Is(err, workspace.ErrNotFound) {
		return nil, err
	}
	return a.designSignals(ctx, p, store)
}

// synthesize generates version 0 from the paper and the signal set.
func (a *App) synthesize(ctx context.Context, p *paper.Paper, set *signal.Set, store *workspace.Store) (*artifact.Artifact, error) {
	s := synth.New(a.client, synth.WithLogger(a.logger))
	art, err := s.Synthesize(ctx, p, set)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if err := store.SaveArtifact(art); err != nil {
		return nil, fmt.Errorf("save initial version: %w", err)
	}
	a.publisher.Publish(events.TypeSynthesized, p.ID, map[string]any{
		"files": len(art.Files),
	})
	return art, nil
}

// runLoop executes the reflection loop on the latest artifact version.
func (a *App) runLoop(ctx context.Context, paperID string, set *signal.Set, store *workspace.Store) (*reflect.Result, error) {
	latest, err := store.LatestVersion()
	if err != nil {
		return nil, fmt.Errorf("no artifact to reflect on: %w", err)
	}
	art, err := store.LoadArtifact(latest)
	if err != nil {
		return nil, err
	}

	loop := reflect.NewLoop(a.client, store,
		reflect.WithMaxAttempts(a.cfg.Reflection.MaxAttempts),
		reflect.WithEvalConcurrency(a.cfg.Reflection.Concurrency),
		reflect.WithMetrics(a.metrics),
		reflect.WithLogger(a.logger),
		reflect.WithIterationHook(func(rec *reflect.IterationRecord) {
			a.publisher.Publish(events.TypeIterationDone, paperID, map[string]any{
				"iteration":    rec.Index,
				"version":      rec.VersionAfter,
				"failed_edits": len(rec.EditFailures),
			})
		}),
	)
	result, err := loop.Run(ctx, set, art)
	if err != nil {
		return nil, fmt.Errorf("reflection loop: %w", err)
	}

	a.publisher.Publish(events.TypeRunFinished, paperID, map[string]any{
		"status":     string(result.Status),
		"iterations": result.Iterations,
		"version":    result.FinalVersion,
	})
	return result, nil
}

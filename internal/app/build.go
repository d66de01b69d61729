package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/piiguard/internal/allowlist"
	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/collab"
	"github.com/antoniostano/piiguard/internal/config"
	"github.com/antoniostano/piiguard/internal/detect"
	"github.com/antoniostano/piiguard/internal/editor"
	"github.com/antoniostano/piiguard/internal/httpapi"
	"github.com/antoniostano/piiguard/internal/interceptor"
	"github.com/antoniostano/piiguard/internal/kvstore"
	"github.com/antoniostano/piiguard/internal/observability"
	"github.com/antoniostano/piiguard/internal/policy"
	"github.com/antoniostano/piiguard/internal/token"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Registry  *editor.Registry
	Hub       *interceptor.Hub
	Bus       *bridge.Bus
	Allowlist *allowlist.List
	Policies  *policy.Store
	Metrics   *observability.Metrics
	StoreMode string

	logger  *slog.Logger
	watcher *policy.Watcher
	syncWG  sync.WaitGroup

	// Cleanup should be called on shutdown to release external resources (DB, watchers, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	kv, err := kvstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("policy store init failed: %w", err)
	}
	policies := policy.NewStore(kv, logger.With("component", "policy_store"))

	initial, err := loadInitialPolicy(ctx, cfg, policies, logger)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	values, err := policies.LoadAllowlist(ctx)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("allowlist load failed: %w", err)
	}
	list := allowlist.New(values...)

	bus := bridge.NewBus()
	bus.SetDropHook(func(t bridge.Topic) {
		metrics.BridgeNotifications.WithLabelValues(t.MarkerID, "drop_full").Inc()
	})
	if err := publishPolicy(bus, initial); err != nil {
		_ = kv.Close()
		return nil, err
	}
	if payload, err := allowlist.Encode(list.Values()); err == nil {
		bus.Publish(bridge.AllowlistTopic, payload)
	}

	resolver := detect.NewResolver(
		detect.Options{Heuristics: cfg.DetectHeuristics},
		cfg.DetectRemoteTimeout,
		logger.With("component", "detect"),
		detect.Hooks{
			Observe: func(source string, elapsed time.Duration, _ error) {
				metrics.ObserveDetect(source, elapsed)
			},
			OnFallback: func(reason string, _ error) {
				metrics.DetectorFallbacks.WithLabelValues(reason).Inc()
			},
		},
	)

	registry := editor.NewRegistry(cfg.SurfaceInactivityTimeout)
	conns := httpapi.NewConnections()
	hub := interceptor.NewHub(cfg.DetectDebounce, initial, interceptor.Deps{
		Registry:  registry,
		Detectors: resolver,
		Selector:  conns,
		Tokens:    token.NewEngine(),
		Allowlist: list,
		Bus:       bus,
		Metrics:   metrics,
		Logger:    logger.With("component", "interceptor"),
		OnSummary: conns.PublishSummary,
	})
	registry.SetDetachHook(func(id string) {
		hub.Forget(id)
		metrics.SurfaceEvents.WithLabelValues("detach").Inc()
		metrics.ActiveSurfaces.Set(float64(registry.ActiveCount()))
	})

	var dispatcher collab.Dispatcher = collab.Unavailable{}
	if strings.TrimSpace(cfg.CollabURL) != "" {
		dispatcher = collab.NewHTTPDispatcher(cfg.CollabURL, 10*time.Second)
	}

	mode := storeMode(cfg.DatabaseURL)
	api := httpapi.New(cfg, httpapi.Deps{
		Registry:    registry,
		Hub:         hub,
		Connections: conns,
		Bus:         bus,
		Policies:    policies,
		Allowlist:   list,
		Detector:    resolver.Local(),
		Collab:      dispatcher,
		Metrics:     metrics,
		Logger:      logger.With("component", "httpapi"),
		StoreMode:   mode,
	})

	res := &BuildResult{
		Config:    cfg,
		API:       api,
		Registry:  registry,
		Hub:       hub,
		Bus:       bus,
		Allowlist: list,
		Policies:  policies,
		Metrics:   metrics,
		StoreMode: mode,
		logger:    logger,
	}
	if cfg.PolicyFile != "" {
		res.watcher = policy.NewWatcher(cfg.PolicyFile, func(p policy.Policy) {
			if err := publishPolicy(bus, p); err != nil {
				logger.Warn("policy file reload not published", "error", err)
			}
		}, logger.With("component", "policy_watcher"))
	}

	res.Cleanup = func() error {
		var errs []string
		hub.Close()
		registry.Close()
		if res.watcher != nil {
			if err := res.watcher.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		res.syncWG.Wait()
		if err := kv.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	return res, nil
}

// Start runs the background loops until ctx ends: the surface janitor, the
// policy file watcher and the bridge persistence loop.
func (b *BuildResult) Start(ctx context.Context) error {
	b.Registry.StartJanitor(ctx, 5*time.Second)
	if b.watcher != nil {
		if err := b.watcher.Start(); err != nil {
			return fmt.Errorf("policy watcher start failed: %w", err)
		}
	}

	sub := b.Bus.Subscribe(32, bridge.Topics()...)
	b.syncWG.Add(2)
	go func() {
		defer b.syncWG.Done()
		<-ctx.Done()
		sub.Close()
	}()
	go func() {
		defer b.syncWG.Done()
		for n := range sub.C {
			b.persist(ctx, n.Marker.Topic)
		}
	}()
	return nil
}

// persist writes the latest marker of topic to the store. Allowlist values
// published by other contexts replace the local list first.
func (b *BuildResult) persist(ctx context.Context, topic bridge.Topic) {
	m := b.Bus.Current(topic)
	switch topic.MarkerID {
	case bridge.AllowlistTopic.MarkerID:
		values, err := allowlist.Decode(m.Payload)
		if err != nil {
			b.logger.Warn("allowlist marker is malformed, not persisted", "version", m.Version, "error", err)
			return
		}
		b.Allowlist.Replace(values)
		if err := b.Policies.SaveAllowlist(ctx, values); err != nil {
			b.logger.Error("allowlist save failed", "error", err)
		}
	case bridge.PolicyTopic.MarkerID:
		p := interceptor.PolicyFromMarker(m, b.logger)
		if err := b.Policies.Save(ctx, p); err != nil {
			b.logger.Error("policy save failed", "error", err)
		}
	}
}

func loadInitialPolicy(ctx context.Context, cfg config.Config, policies *policy.Store, logger *slog.Logger) (policy.Policy, error) {
	if cfg.PolicyFile == "" {
		p, err := policies.Load(ctx)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("policy load failed: %w", err)
		}
		return p, nil
	}
	p, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("policy file load failed: %w", err)
	}
	if err := policies.Save(ctx, p); err != nil {
		return policy.Policy{}, fmt.Errorf("policy seed failed: %w", err)
	}
	logger.Info("policy seeded from file", "path", cfg.PolicyFile)
	return p, nil
}

func publishPolicy(bus *bridge.Bus, p policy.Policy) error {
	payload, err := bridge.EncodePayload(p)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	bus.Publish(bridge.PolicyTopic, payload)
	return nil
}

func storeMode(databaseURL string) string {
	u := strings.ToLower(strings.TrimSpace(databaseURL))
	switch {
	case u == "" || u == "memory":
		return "in-memory"
	case strings.HasPrefix(u, "postgres"):
		return "postgres"
	default:
		return "sqlite"
	}
}

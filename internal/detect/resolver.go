package detect

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Hooks lets the host observe detector behavior without this package
// depending on a metrics backend.
type Hooks struct {
	Observe    ObserveFunc
	OnFallback FallbackFunc
}

// Resolver hands out the detector matching the live policy: remote with
// local fallback when a remote endpoint is enabled, local otherwise. Remote
// detectors are built once per endpoint.
type Resolver struct {
	local         Detector
	remoteTimeout time.Duration
	logger        *slog.Logger
	hooks         Hooks

	mu     sync.Mutex
	remote map[string]Detector
}

func NewResolver(opts Options, remoteTimeout time.Duration, logger *slog.Logger, hooks Hooks) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		local:         NewTraced(NewLocal(opts), "local", hooks.Observe),
		remoteTimeout: remoteTimeout,
		logger:        logger,
		hooks:         hooks,
		remote:        make(map[string]Detector),
	}
}

// Local returns the traced local matcher.
func (r *Resolver) Local() Detector {
	return r.local
}

// For returns the detector for the given policy switches.
func (r *Resolver) For(useRemote bool, url string) Detector {
	url = strings.TrimSpace(url)
	if !useRemote || url == "" {
		return r.local
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.remote[url]; ok {
		return d
	}
	remote := NewTraced(NewHTTPDetector(url, r.remoteTimeout), "remote", r.hooks.Observe)
	d := NewFallbackDetector(remote, r.local, r.logger.With("endpoint", url), r.hooks.OnFallback)
	r.remote[url] = d
	return d
}

package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antoniostano/piiguard/internal/pii"
	"github.com/antoniostano/piiguard/internal/reliability"
)

// FallbackFunc observes a primary failure that was absorbed by the fallback.
type FallbackFunc func(reason string, err error)

// FallbackDetector tries a primary detector and falls back to a secondary on
// any error except cancellation of the caller's context.
type FallbackDetector struct {
	primary    Detector
	fallback   Detector
	logger     *slog.Logger
	onFallback FallbackFunc
}

func NewFallbackDetector(primary, fallback Detector, logger *slog.Logger, onFallback FallbackFunc) *FallbackDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackDetector{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		onFallback: onFallback,
	}
}

// Primary returns the preferred detector used before fallback.
func (d *FallbackDetector) Primary() Detector {
	if d == nil {
		return nil
	}
	return d.primary
}

// Secondary returns the fallback detector.
func (d *FallbackDetector) Secondary() Detector {
	if d == nil {
		return nil
	}
	return d.fallback
}

func (d *FallbackDetector) Detect(ctx context.Context, text string) ([]pii.Entity, error) {
	if d == nil || d.primary == nil {
		if d != nil && d.fallback != nil {
			return d.fallback.Detect(ctx, text)
		}
		return nil, fmt.Errorf("fallback detector misconfigured")
	}

	entities, err := d.primary.Detect(ctx, text)
	if err == nil {
		return entities, nil
	}
	// The caller gave up; a client-side timeout on the primary is not that.
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}
	if d.fallback == nil {
		return nil, err
	}

	reason := reliability.Classify(err)
	d.logger.Warn("remote detection failed, using local matcher", "reason", reason, "error", err)
	if d.onFallback != nil {
		d.onFallback(reason, err)
	}

	fallbackEntities, fallbackErr := d.fallback.Detect(ctx, text)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary detector error: %w; fallback detector error: %v", err, fallbackErr)
	}
	return fallbackEntities, nil
}

package detect

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoniostano/piiguard/internal/pii"
)

const tracerName = "piiguard/detect"

// ObserveFunc receives the outcome of every traced detection.
type ObserveFunc func(source string, elapsed time.Duration, err error)

// Traced wraps a detector in an OpenTelemetry span and reports latency.
type Traced struct {
	inner   Detector
	source  string
	tracer  trace.Tracer
	observe ObserveFunc
}

func NewTraced(inner Detector, source string, observe ObserveFunc) *Traced {
	return &Traced{
		inner:   inner,
		source:  source,
		tracer:  otel.Tracer(tracerName),
		observe: observe,
	}
}

func (d *Traced) Detect(ctx context.Context, text string) ([]pii.Entity, error) {
	ctx, span := d.tracer.Start(ctx, "detect."+d.source)
	defer span.End()
	span.SetAttributes(
		attribute.String("detect.source", d.source),
		attribute.Int("detect.text_bytes", len(text)),
	)

	started := time.Now()
	entities, err := d.inner.Detect(ctx, text)
	if d.observe != nil {
		d.observe(d.source, time.Since(started), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("detect.entities", len(entities)))
	return entities, nil
}

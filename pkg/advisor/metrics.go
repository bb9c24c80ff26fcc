package advisor

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/pario-ai/agronomist/pkg/advisor"

// instruments records lookup counts and upstream latency.
type instruments struct {
	lookups  metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) *instruments {
	ins, err := buildInstruments(mp.Meter(meterName))
	if err != nil {
		log.Printf("advisor: metrics disabled: %v", err)
		ins, _ = buildInstruments(noop.NewMeterProvider().Meter(meterName))
	}
	return ins
}

func buildInstruments(meter metric.Meter) (*instruments, error) {
	lookups, err := meter.Int64Counter(
		"advisor.lookups",
		metric.WithDescription("Advisory lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"advisor.upstream.duration_ms",
		metric.WithDescription("Inference endpoint round-trip time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{lookups: lookups, duration: duration}, nil
}

func (i *instruments) recordLookup(ctx context.Context, o Outcome, cached bool) {
	i.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", o.String()),
		attribute.Bool("cached", cached),
	))
}

func (i *instruments) recordUpstream(ctx context.Context, o Outcome, d time.Duration) {
	i.duration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("outcome", o.String()),
	))
}

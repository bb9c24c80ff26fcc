// Package telemetry builds the OpenTelemetry meter provider used by the
// advisor, backed by one of the supported exporters.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Supported exporters.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// Telemetry owns a meter provider and, for the prometheus exporter, the
// handler that serves its registry.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	// Handler is nil unless the exporter is prometheus.
	Handler http.Handler
}

// New creates a meter provider for the named exporter. Stdout output goes to
// w, or to stderr when w is nil, since stdout may carry a protocol stream.
func New(name string, w io.Writer) (*Telemetry, error) {
	reader, handler, err := newReader(name, w)
	if err != nil {
		return nil, err
	}
	return &Telemetry{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		Handler:       handler,
	}, nil
}

func newReader(name string, w io.Writer) (sdkmetric.Reader, http.Handler, error) {
	switch name {
	case ExporterStdout:
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil, nil

	case ExporterPrometheus:
		reg := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return exp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil

	case ExporterNone, "":
		return sdkmetric.NewManualReader(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter: %q", name)
	}
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.MeterProvider.Shutdown(ctx)
}

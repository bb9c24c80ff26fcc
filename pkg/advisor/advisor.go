// Package advisor turns a disease detection into grower guidance by asking a
// chat-completions endpoint for a JSON advisory.
//
// Lookups are keyed by CacheKey. Successful advisories are cached; every
// failure degrades to one of three fixed fallbacks and is never cached, so a
// later lookup for the same key tries the endpoint again. Nothing is retried.
// Concurrent cold lookups for one key share a single upstream call.
package advisor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/agronomist/pkg/config"
	"github.com/pario-ai/agronomist/pkg/models"
)

// Cache stores successful advisories by cache key.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (models.Advisory, bool)
	Set(ctx context.Context, key string, adv models.Advisory) error
}

// UsageRecorder accounts for upstream calls.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Advisor resolves detections to advisories.
type Advisor struct {
	provider config.ProviderConfig
	cache    Cache
	usage    UsageRecorder
	client   *http.Client
	metrics  *instruments
	group    singleflight.Group
}

// Option configures an Advisor.
type Option func(*advisorOptions)

type advisorOptions struct {
	client        *http.Client
	usage         UsageRecorder
	meterProvider metric.MeterProvider
}

// WithHTTPClient overrides the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *advisorOptions) { o.client = c }
}

// WithUsageRecorder records every upstream call.
func WithUsageRecorder(u UsageRecorder) Option {
	return func(o *advisorOptions) { o.usage = u }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *advisorOptions) { o.meterProvider = mp }
}

// New creates an Advisor. A nil cache disables caching.
func New(provider config.ProviderConfig, cache Cache, opts ...Option) *Advisor {
	o := advisorOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: provider.Timeout}
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	return &Advisor{
		provider: provider,
		cache:    cache,
		usage:    o.usage,
		client:   o.client,
		metrics:  newInstruments(o.meterProvider),
	}
}

// Report describes how a lookup was answered.
type Report struct {
	Key      string
	Advisory models.Advisory
	Outcome  Outcome
	Cached   bool
	// Shared is set when the upstream call was coalesced with another caller.
	Shared bool
}

// Advise returns guidance for a detection. It never fails: errors degrade to
// a fallback advisory.
func (a *Advisor) Advise(ctx context.Context, in models.DetectionInput) models.Advisory {
	return a.Lookup(ctx, in).Advisory
}

// Lookup is Advise with details about how the answer was produced.
func (a *Advisor) Lookup(ctx context.Context, in models.DetectionInput) Report {
	key := CacheKey(in.Disease, in.Confidence)

	if a.cache != nil {
		if adv, ok := a.cache.Get(ctx, key); ok {
			a.metrics.recordLookup(ctx, OutcomeSuccess, true)
			return Report{Key: key, Advisory: adv, Outcome: OutcomeSuccess, Cached: true}
		}
	}

	// The shared call must outlive any one caller hanging up.
	detached := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		return a.fetch(detached, key, in), nil
	})

	var res Result
	var shared bool
	select {
	case r := <-ch:
		res, shared = r.Val.(Result), r.Shared
	case <-ctx.Done():
		res = UnexpectedFailure(fmt.Errorf("lookup abandoned: %w", ctx.Err()))
		log.Printf("advisor: %s for %s: %v", res.Outcome, key, res.Err)
	}

	a.metrics.recordLookup(ctx, res.Outcome, false)
	return Report{Key: key, Advisory: res.Advisory(), Outcome: res.Outcome, Shared: shared}
}

// fetch runs one upstream exchange, caches a success and accounts for the call.
func (a *Advisor) fetch(ctx context.Context, key string, in models.DetectionInput) Result {
	start := time.Now()
	res := a.safeComplete(ctx, in)
	elapsed := time.Since(start)

	if res.Outcome == OutcomeSuccess && a.cache != nil {
		if err := a.cache.Set(ctx, key, res.advisory); err != nil {
			log.Printf("advisor: cache store %s: %v", key, err)
		}
	}

	a.settle(ctx, key, res, elapsed)
	return res
}

// safeComplete converts a panic anywhere in the exchange into an unexpected failure.
func (a *Advisor) safeComplete(ctx context.Context, in models.DetectionInput) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = UnexpectedFailure(fmt.Errorf("panic: %v", r))
		}
	}()
	return a.complete(ctx, in)
}

// settle logs, meters and records an upstream exchange. Failures here are
// logged and never change the result.
func (a *Advisor) settle(ctx context.Context, key string, res Result, elapsed time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("advisor: settle %s: %v", key, r)
		}
	}()

	switch res.Outcome {
	case OutcomeSuccess:
	case OutcomeParseFailure:
		log.Printf("advisor: %s for %s: %v; raw response: %s", res.Outcome, key, res.Err, truncate(res.raw, 512))
	default:
		log.Printf("advisor: %s for %s: %v", res.Outcome, key, res.Err)
	}

	a.metrics.recordUpstream(ctx, res.Outcome, elapsed)

	if a.usage == nil {
		return
	}
	rec := models.UsageRecord{
		RequestID: RequestID(ctx),
		Model:     res.Model,
		CacheKey:  key,
		Outcome:   res.Outcome.String(),
		LatencyMs: elapsed.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if rec.Model == "" {
		rec.Model = a.provider.Model
	}
	if rec.RequestID == "" {
		rec.RequestID = uuid.NewString()
	}
	if res.Usage != nil {
		rec.PromptTokens = res.Usage.PromptTokens
		rec.CompletionTokens = res.Usage.CompletionTokens
		rec.TotalTokens = res.Usage.TotalTokens
	}
	if err := a.usage.Record(ctx, rec); err != nil {
		log.Printf("advisor: record usage: %v", err)
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that is recorded with upstream calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

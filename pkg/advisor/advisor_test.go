package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pario-ai/agronomist/pkg/cache/memory"
	"github.com/pario-ai/agronomist/pkg/config"
	"github.com/pario-ai/agronomist/pkg/models"
)

// upstream is a fake inference endpoint that counts calls.
type upstream struct {
	*httptest.Server
	calls atomic.Int32
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	data, err := json.Marshal(models.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "openai/gpt-oss-120b",
		Choices: []models.Choice{
			{Message: &models.ChatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: &models.Usage{PromptTokens: 120, CompletionTokens: 80, TotalTokens: 200},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func replyWith(t *testing.T, content string) http.HandlerFunc {
	body := completionBody(t, content)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func testProvider(url string) config.ProviderConfig {
	p := config.Default().Provider
	p.URL = url
	p.APIKey = "gsk-test"
	return p
}

func newTestAdvisor(t *testing.T, url string, opts ...Option) (*Advisor, *memory.Cache) {
	t.Helper()
	c := memory.New(0)
	return New(testProvider(url), c, opts...), c
}

var purpleBlotch = models.DetectionInput{Disease: "Purple Blotch", Confidence: 91}

func TestAdviseSuccessRoundTrip(t *testing.T) {
	var gotReq models.ChatCompletionRequest
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gsk-test" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content-type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(completionBody(t, `{"summary":"S","prescription":"P","mitigation":"M"}`))
	})

	a, c := newTestAdvisor(t, up.URL)
	ctx := context.Background()
	want := models.Advisory{Summary: "S", Prescription: "P", Mitigation: "M"}

	rep := a.Lookup(ctx, purpleBlotch)
	if rep.Advisory != want {
		t.Fatalf("got %+v, want %+v", rep.Advisory, want)
	}
	if rep.Outcome != OutcomeSuccess || rep.Cached {
		t.Errorf("unexpected report: %+v", rep)
	}

	if gotReq.Model != config.DefaultModel {
		t.Errorf("model = %s", gotReq.Model)
	}
	if gotReq.Temperature != 0.3 || gotReq.MaxTokens != 800 {
		t.Errorf("temperature/max_tokens = %v/%d", gotReq.Temperature, gotReq.MaxTokens)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
	if gotReq.Messages[1].Content != "Detected onion disease: Purple Blotch\nConfidence: 91%" {
		t.Errorf("user message = %q", gotReq.Messages[1].Content)
	}

	cached, ok := c.Get(ctx, "ai_purple_blotch_91")
	if !ok || cached != want {
		t.Fatalf("expected advisory cached under derived key, got %+v (ok=%v)", cached, ok)
	}

	replay := a.Lookup(ctx, purpleBlotch)
	if replay.Advisory != want || !replay.Cached {
		t.Errorf("replay = %+v", replay)
	}
	if n := up.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestAdviseCacheShortCircuit(t *testing.T) {
	up := newUpstream(t, replyWith(t, `{"summary":"S","prescription":"P","mitigation":"M"}`))
	a, c := newTestAdvisor(t, up.URL)
	ctx := context.Background()

	seeded := models.Advisory{Summary: "cached", Prescription: "p", Mitigation: "m"}
	_ = c.Set(ctx, CacheKey("purple blotch", 91), seeded)

	for _, disease := range []string{"Purple Blotch", "  PURPLE   blotch ", "purple\tblotch"} {
		got := a.Advise(ctx, models.DetectionInput{Disease: disease, Confidence: 91})
		if got != seeded {
			t.Errorf("%q: got %+v, want cached advisory", disease, got)
		}
	}
	if n := up.calls.Load(); n != 0 {
		t.Errorf("expected no upstream calls, got %d", n)
	}
}

func TestAdviseFallbackTiers(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    models.Advisory
		outcome Outcome
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			},
			want:    FallbackTransport,
			outcome: OutcomeTransportFailure,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want:    FallbackTransport,
			outcome: OutcomeTransportFailure,
		},
		{
			name: "body not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			want:    FallbackParse,
			outcome: OutcomeParseFailure,
		},
		{
			name:    "content not json",
			handler: replyWith(t, "Purple blotch is a fungal disease."),
			want:    FallbackParse,
			outcome: OutcomeParseFailure,
		},
		{
			name:    "content wrapped in markdown",
			handler: replyWith(t, "```json\n{\"summary\":\"S\"}\n```"),
			want:    FallbackParse,
			outcome: OutcomeParseFailure,
		},
		{
			name:    "content is an array",
			handler: replyWith(t, `["S","P","M"]`),
			want:    FallbackParse,
			outcome: OutcomeParseFailure,
		},
		{
			name:    "non-string field",
			handler: replyWith(t, `{"summary":42,"prescription":"P","mitigation":"M"}`),
			want:    FallbackParse,
			outcome: OutcomeParseFailure,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"choices":[]}`))
			},
			want:    FallbackParse,
			outcome: OutcomeParseFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, tt.handler)
			a, c := newTestAdvisor(t, up.URL)
			ctx := context.Background()

			rep := a.Lookup(ctx, purpleBlotch)
			if rep.Advisory != tt.want {
				t.Errorf("got %+v, want %+v", rep.Advisory, tt.want)
			}
			if rep.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", rep.Outcome, tt.outcome)
			}
			if stats, _ := c.Stats(); stats.Entries != 0 {
				t.Errorf("degraded result was cached")
			}

			a.Advise(ctx, purpleBlotch)
			if n := up.calls.Load(); n != 2 {
				t.Errorf("expected retry to reach upstream again, got %d calls", n)
			}
		})
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestAdviseNetworkError(t *testing.T) {
	var calls atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("connection reset by peer")
	})}

	a, c := newTestAdvisor(t, "https://inference.example/v1/chat/completions", WithHTTPClient(client))
	ctx := context.Background()

	if got := a.Advise(ctx, purpleBlotch); got != FallbackUnexpected {
		t.Errorf("got %+v, want unexpected-failure fallback", got)
	}
	a.Advise(ctx, purpleBlotch)
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
	if stats, _ := c.Stats(); stats.Entries != 0 {
		t.Error("degraded result was cached")
	}
}

func TestAdvisePanicIsAbsorbed(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		panic("transport exploded")
	})}
	a, _ := newTestAdvisor(t, "https://inference.example/v1/chat/completions", WithHTTPClient(client))

	if got := a.Advise(context.Background(), purpleBlotch); got != FallbackUnexpected {
		t.Errorf("got %+v, want unexpected-failure fallback", got)
	}
}

func TestAdviseMissingOrInvalidConfig(t *testing.T) {
	up := newUpstream(t, replyWith(t, `{"summary":"S"}`))

	tests := []struct {
		name   string
		mutate func(*config.ProviderConfig)
	}{
		{"missing url", func(p *config.ProviderConfig) { p.URL = "" }},
		{"missing key", func(p *config.ProviderConfig) { p.APIKey = "" }},
		{"relative url", func(p *config.ProviderConfig) { p.URL = "not-a-url" }},
		{"bad scheme", func(p *config.ProviderConfig) { p.URL = "ftp://example.com/v1" }},
		{"unparseable url", func(p *config.ProviderConfig) { p.URL = "http://[::1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProvider(up.URL)
			tt.mutate(&p)
			a := New(p, memory.New(0))

			rep := a.Lookup(context.Background(), purpleBlotch)
			if rep.Advisory != FallbackTransport || rep.Outcome != OutcomeTransportFailure {
				t.Errorf("got %+v", rep)
			}
		})
	}
	if n := up.calls.Load(); n != 0 {
		t.Errorf("expected no upstream calls, got %d", n)
	}
}

func TestAdvisePartialFields(t *testing.T) {
	up := newUpstream(t, replyWith(t, `{"summary":"  Fungal leaf disease.  ","prescription":"Apply mancozeb.\n"}`))
	a, c := newTestAdvisor(t, up.URL)
	ctx := context.Background()

	want := models.Advisory{Summary: "Fungal leaf disease.", Prescription: "Apply mancozeb.", Mitigation: ""}
	if got := a.Advise(ctx, purpleBlotch); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got, ok := c.Get(ctx, "ai_purple_blotch_91"); !ok || got != want {
		t.Errorf("partial advisory should be cached, got %+v (ok=%v)", got, ok)
	}
}

func TestAdviseWithoutCache(t *testing.T) {
	up := newUpstream(t, replyWith(t, `{"summary":"S","prescription":"P","mitigation":"M"}`))
	a := New(testProvider(up.URL), nil)

	a.Advise(context.Background(), purpleBlotch)
	a.Advise(context.Background(), purpleBlotch)
	if n := up.calls.Load(); n != 2 {
		t.Errorf("expected every lookup to reach upstream without a cache, got %d", n)
	}
}

func TestConcurrentColdMissesCoalesce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	body := completionBody(t, `{"summary":"S","prescription":"P","mitigation":"M"}`)
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Write(body)
	})
	a, _ := newTestAdvisor(t, up.URL)

	const n = 8
	results := make([]models.Advisory, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.Advise(context.Background(), purpleBlotch)
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls := up.calls.Load(); calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
	for i, got := range results {
		if got.Summary != "S" {
			t.Errorf("caller %d got %+v", i, got)
		}
	}
}

func TestCallerCancellationDoesNotAbortSharedCall(t *testing.T) {
	release := make(chan struct{})
	body := completionBody(t, `{"summary":"S","prescription":"P","mitigation":"M"}`)
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(body)
	})
	a, c := newTestAdvisor(t, up.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() { done <- a.Lookup(ctx, purpleBlotch) }()

	for up.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	rep := <-done
	if rep.Advisory != FallbackUnexpected {
		t.Errorf("abandoned lookup got %+v", rep.Advisory)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.Get(context.Background(), rep.Key); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("shared call did not complete and cache its result")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.UsageRecord
}

func (f *fakeRecorder) Record(_ context.Context, rec models.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func TestUsageRecorded(t *testing.T) {
	up := newUpstream(t, replyWith(t, `{"summary":"S","prescription":"P","mitigation":"M"}`))
	rec := &fakeRecorder{}
	a, _ := newTestAdvisor(t, up.URL, WithUsageRecorder(rec))

	ctx := WithRequestID(context.Background(), "req-123")
	a.Advise(ctx, purpleBlotch)
	a.Advise(ctx, purpleBlotch) // cache hit, not recorded

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(rec.records))
	}
	r := rec.records[0]
	if r.RequestID != "req-123" || r.CacheKey != "ai_purple_blotch_91" || r.Outcome != "success" {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.TotalTokens != 200 || r.PromptTokens != 120 || r.Model != "openai/gpt-oss-120b" {
		t.Errorf("unexpected token accounting: %+v", r)
	}
}

func TestUsageRecordedForFailures(t *testing.T) {
	rec := &fakeRecorder{}
	p := testProvider("")
	a := New(p, nil, WithUsageRecorder(rec))

	a.Advise(context.Background(), purpleBlotch)
	if len(rec.records) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(rec.records))
	}
	r := rec.records[0]
	if r.Outcome != "transport_failure" || r.Model != p.Model || r.RequestID == "" {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestMetrics(t *testing.T) {
	up := newUpstream(t, replyWith(t, `{"summary":"S","prescription":"P","mitigation":"M"}`))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	a, _ := newTestAdvisor(t, up.URL, WithMeterProvider(mp))
	ctx := context.Background()

	a.Advise(ctx, purpleBlotch)
	a.Advise(ctx, purpleBlotch)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}

	counts := map[bool]int64{}
	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "advisor.lookups":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected data type %T", m.Data)
				}
				for _, dp := range sum.DataPoints {
					cached, _ := dp.Attributes.Value("cached")
					counts[cached.AsBool()] += dp.Value
				}
			case "advisor.upstream.duration_ms":
				sawDuration = true
			}
		}
	}
	if counts[false] != 1 || counts[true] != 1 {
		t.Errorf("expected one miss and one hit, got %v", counts)
	}
	if !sawDuration {
		t.Error("expected upstream duration histogram")
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/agronomist/pkg/advisor"
	"github.com/pario-ai/agronomist/pkg/config"
	"github.com/pario-ai/agronomist/pkg/models"
)

// maxRequestBytes bounds the advisory request body.
const maxRequestBytes = 64 << 10

// Advisor answers advisory lookups.
type Advisor interface {
	Lookup(ctx context.Context, in models.DetectionInput) advisor.Report
}

// Server is the Agronomist web front end.
type Server struct {
	cfg     *config.Config
	advisor Advisor
	files   http.Handler
	mux     *http.ServeMux
}

// pages maps friendly routes to files under the public directory.
var pages = map[string]string{
	"/":       "index.html",
	"/upload": "upload.html",
	"/live":   "live.html",
}

// New creates a Server wired with the given advisor.
func New(cfg *config.Config, a Advisor) *Server {
	s := &Server{
		cfg:     cfg,
		advisor: a,
		files:   http.FileServer(http.Dir(cfg.PublicDir)),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/advisory", s.handleAdvisory)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/", s.handleStatic)
	return s
}

// MountMetrics serves h at /metrics.
func (s *Server) MountMetrics(h http.Handler) {
	s.mux.Handle("/metrics", h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("agronomist listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// advisoryRequest is the inbound body for POST /api/advisory.
type advisoryRequest struct {
	Disease    string   `json:"disease"`
	Confidence *float64 `json:"confidence"`
	ImageURL   string   `json:"imageUrl"`
}

func (req advisoryRequest) validate() error {
	if strings.TrimSpace(req.Disease) == "" {
		return errors.New("disease is required")
	}
	if req.Confidence == nil {
		return errors.New("confidence is required")
	}
	c := *req.Confidence
	if math.IsNaN(c) || c < 0 || c > 100 {
		return errors.New("confidence must be between 0 and 100")
	}
	return nil
}

func (s *Server) handleAdvisory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	var req advisoryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := advisor.WithRequestID(r.Context(), requestID)
	rep := s.advisor.Lookup(ctx, models.DetectionInput{
		Disease:    req.Disease,
		Confidence: *req.Confidence,
		ImageURL:   req.ImageURL,
	})

	cacheStatus := "miss"
	if rep.Cached {
		cacheStatus = "hit"
	}
	w.Header().Set("X-Agronomist-Cache", cacheStatus)
	w.Header().Set("X-Agronomist-Outcome", rep.Outcome.String())
	writeJSON(w, http.StatusOK, rep.Advisory)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if page, ok := pages[r.URL.Path]; ok {
		http.ServeFile(w, r, filepath.Join(s.cfg.PublicDir, page))
		return
	}
	s.files.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"agronomist_error","code":%d}}`, message, code)
}

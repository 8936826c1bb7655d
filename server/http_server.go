package server

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

// SampleRequest is a one-shot sample over a fresh chain. Null logits are
// masked tokens.
type SampleRequest struct {
	Logits  []*float32       `json:"logits"`
	History []sampling.Token `json:"history,omitempty"`
	TopN    int              `json:"top_n,omitempty"`
}

// Candidate is one surviving entry of the final distribution.
type Candidate struct {
	ID    sampling.Token `json:"id"`
	Value float32        `json:"value"`
}

// SampleResponse carries the selected token and the strongest survivors.
type SampleResponse struct {
	Token      sampling.Token `json:"token"`
	Domain     string         `json:"domain,omitempty"`
	Candidates []Candidate    `json:"candidates,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string   `json:"status"`
	Uptime   string   `json:"uptime"`
	Sessions int      `json:"sessions"`
	Stages   []string `json:"stages"`
}

// HTTPServer exposes health, Prometheus metrics and one-shot sampling.
type HTTPServer struct {
	Address string
	Port    string

	sampling config.SamplingConfig
	vocab    runtime.Vocab
	sessions func() int
	logger   *zap.Logger

	httpServer *http.Server
	mu         sync.RWMutex
	startTime  time.Time
}

// NewHTTPServer creates a new HTTP server instance. sessions reports the
// open TCP session count for /health and may be nil.
func NewHTTPServer(address, port string, cfg config.SamplingConfig, vocab runtime.Vocab, sessions func() int, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		sessions = func() int { return 0 }
	}
	return &HTTPServer{
		Address:   address,
		Port:      port,
		sampling:  cfg,
		vocab:     vocab,
		sessions:  sessions,
		logger:    logger.Named("http"),
		startTime: time.Now(),
	}
}

// Handler returns the routes served by Start.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/sample", s.handleSample)
	return mux
}

// Start begins listening for HTTP requests
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.Address, s.Port))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("HTTP server started", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Sessions: s.sessions(),
	}
	if chain, err := runtime.NewChain(s.sampling, s.vocab, nil); err == nil {
		resp.Stages = chain.Names()
		chain.Close()
	} else {
		resp.Status = "misconfigured"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSample(w http.ResponseWriter, r *http.Request) {
	var req SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SampleResponse{Token: -1, Error: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if s.vocab.Size > 0 && len(req.Logits) != s.vocab.Size {
		writeJSON(w, http.StatusBadRequest, SampleResponse{
			Token: -1,
			Error: fmt.Sprintf("got %d logits, vocabulary has %d tokens", len(req.Logits), s.vocab.Size),
		})
		return
	}

	logger := s.logger.With(zap.String("request", uuid.NewString()))
	chain, err := runtime.NewChain(s.sampling, s.vocab, logger)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, SampleResponse{Token: -1, Error: err.Error()})
		return
	}
	defer chain.Close()
	chain.AcceptAll(req.History)

	logits := make([]float32, len(req.Logits))
	for i, v := range req.Logits {
		if v == nil {
			logits[i] = float32(math.Inf(-1))
			continue
		}
		logits[i] = *v
	}

	d := sampling.FromLogits(logits)
	start := time.Now()
	token, err := chain.Apply(d)
	sampleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		sampleErrors.WithLabelValues(errorKind(err)).Inc()
		writeJSON(w, http.StatusUnprocessableEntity, SampleResponse{Token: -1, Error: err.Error()})
		return
	}
	samplesTotal.WithLabelValues("oneshot").Inc()

	writeJSON(w, http.StatusOK, SampleResponse{
		Token:      token,
		Domain:     d.Domain.String(),
		Candidates: topCandidates(d, req.TopN),
	})
}

// topCandidates returns the n highest-valued entries of d, ties by id.
func topCandidates(d *sampling.Distribution, n int) []Candidate {
	if n <= 0 {
		n = 10
	}
	out := make([]Candidate, 0, d.Len())
	for _, t := range d.Tokens {
		out = append(out, Candidate{ID: t.ID, Value: t.Value})
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out[:min(n, len(out))]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.httpServer = nil
	s.logger.Info("HTTP server stopped", zap.String("addr", net.JoinHostPort(s.Address, s.Port)))
	return nil
}

// GetAddress returns the server address
func (s *HTTPServer) GetAddress() string {
	return s.Address
}

// GetPort returns the server port
func (s *HTTPServer) GetPort() string {
	return s.Port
}

// IsRunning returns true if the server is running
func (s *HTTPServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpServer != nil
}

// PortString formats a configured port for NewTCPServer and NewHTTPServer.
func PortString(port int) string {
	return strconv.Itoa(port)
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
	"github.com/dandalion98/mirrorbot/internal/services/mirror"
)

const (
	orderPollInterval = 2 * time.Second
	heartbeatInterval = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type orderReader interface {
	RecordsAfter(index uint64) ([]entity.OrderIntentRecord, error)
}

type stateReader interface {
	State() mirror.State
}

// Status static pair description shown by /healthz and the index page.
type Status struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Network string `json:"network"`
	DryRun  bool   `json:"dry_run"`
}

// Server exposes the status page, the order journal as an SSE stream and
// Prometheus metrics.
type Server struct {
	addr         string
	orders       orderReader
	engine       stateReader
	metrics      http.Handler
	status       Status
	pollInterval time.Duration
	l            *zap.Logger
}

// NewServer creates a new web server instance. orders, engine and metrics
// may be nil, the matching endpoints then answer 503.
func NewServer(l *zap.Logger, addr string, status Status, orders orderReader, engine stateReader, metrics http.Handler) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		addr:         addr,
		orders:       orders,
		engine:       engine,
		metrics:      metrics,
		status:       status,
		pollInterval: orderPollInterval,
		l:            l,
	}
}

// Handler routes all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/orders/stream", s.handleOrderStream)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("web server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

type health struct {
	Status
	State string `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health{Status: s.status, State: s.engine.State().String()}); err != nil {
		s.l.Warn("encode health", zap.Error(err))
	}
}

func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "order journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendOrders := func() error {
		records, err := s.orders.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Intent)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: order\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = record.Index
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	if err := sendOrders(); err != nil {
		http.Error(w, "failed to load orders", http.StatusInternalServerError)
		s.l.Error("order stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendOrders(); err != nil {
				s.l.Warn("order stream poll", zap.Error(err))
			}
		}
	}
}

// Package api serves the HTTP control surface: health, counters,
// configuration, the detection log, websocket pipe endpoints and the MJPEG
// viewer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bryanchriswhite/tfliteserver/internal/config"
	"github.com/bryanchriswhite/tfliteserver/internal/ingest"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/output"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
	"github.com/bryanchriswhite/tfliteserver/internal/pipeline"
	"github.com/bryanchriswhite/tfliteserver/internal/publish"
	"github.com/bryanchriswhite/tfliteserver/internal/stats"
	"github.com/bryanchriswhite/tfliteserver/internal/store"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Stats is the body of GET /api/stats.
type Stats struct {
	Model    string               `json:"model"`
	Uptime   string               `json:"uptime"`
	Pipeline pipeline.Counters    `json:"pipeline"`
	Ingest   ingest.Counters      `json:"ingest"`
	Publish  publish.Counters     `json:"publish"`
	Channels []pipe.ChannelStats  `json:"channels"`
	Timing   []stats.Summary      `json:"timing,omitempty"`
	Classes  map[string]int64     `json:"classes,omitempty"`
	Viewers  []output.ViewerStats `json:"viewers,omitempty"`
}

// Feed hands out detection feed subscriptions.
type Feed interface {
	Feed() (*pipe.Subscriber, error)
}

// Options wires the server. Only Config and Hub are required.
type Options struct {
	Config *config.Manager
	Hub    *pipe.Hub
	Store  *store.Store
	Feed   Feed
	MJPEG  *output.MJPEGOutput
	// Stats fills the counters of GET /api/stats.
	Stats func() Stats
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader
	log      *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	api.HandleFunc("/detections/recent", s.handleRecentDetections).Methods("GET")
	api.HandleFunc("/detections/stream", s.handleDetectionStream)

	api.HandleFunc("/pipes", s.handleListPipes).Methods("GET")
	s.router.HandleFunc("/pipes/{name}", s.handlePipe)

	if s.opts.MJPEG != nil {
		s.router.HandleFunc("/stream", s.opts.MJPEG.GetHTTPHandler())
		s.router.HandleFunc("/", s.opts.MJPEG.GetViewerHandler())
	}
}

// Handler returns the routed handler with CORS headers applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Run serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msgf("Starting server on http://localhost%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Streaming clients hold their connections open.
		srv.Close()
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var st Stats
	if s.opts.Stats != nil {
		st = s.opts.Stats()
	}
	if st.Channels == nil {
		st.Channels = s.opts.Hub.Stats()
	}
	if s.opts.Store != nil && st.Classes == nil {
		classes, err := s.opts.Store.CountByClass(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to count detections")
		}
		st.Classes = classes
	}
	if s.opts.MJPEG != nil {
		st.Viewers = s.opts.MJPEG.Viewers()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

// handleUpdateConfig merges the body over the current config. Changes take
// effect on restart.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.Config.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.opts.Config.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "restart_required": true})
}

func (s *Server) handleRecentDetections(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		http.Error(w, "detection log disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.opts.Store.Recent(r.Context(), r.URL.Query().Get("class"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDetectionStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feed == nil {
		http.Error(w, "model publishes no detections", http.StatusNotFound)
		return
	}
	sub, err := s.opts.Feed.Feed()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (s *Server) handleListPipes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Hub.Stats())
}

func (s *Server) handlePipe(w http.ResponseWriter, r *http.Request) {
	s.opts.Hub.ServeWebsocket(w, r, mux.Vars(r)["name"])
}

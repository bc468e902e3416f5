// Package server implements the relay websocket endpoint and HTTP surface.
//
// A single handler carries the health probes and the /ws upgrade path. All
// conversation state lives in process; restarting the server clears every
// session, group, and in-flight conversation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/relaychat/internal/platform/timeouts"
)

// Config carries the relay server settings.
type Config struct {
	// HTTPAddr is the listen address for the HTTP and websocket surface.
	HTTPAddr string

	// AllowedOrigins restricts websocket handshakes to the listed Origin
	// header values. Empty means every origin is accepted.
	AllowedOrigins []string

	// ReadHeaderTimeout guards the HTTP server against slow headers.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout caps graceful drain on context cancellation.
	ShutdownTimeout time.Duration
}

// Server hosts the relay HTTP surface.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

type healthResponse struct {
	Status         string `json:"status"`
	ConnectedUsers int    `json:"connected_users"`
	Timestamp      string `json:"timestamp"`
}

// NewHandler creates relay routes with no origin restriction, for tests and
// offline paths.
func NewHandler() http.Handler {
	return newHandler(nil)
}

func newHandler(allowedOrigins []string) http.Handler {
	relay := newRelayCore()
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:         "ok",
			ConnectedUsers: relay.registry.count(),
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		})
	})

	wsHandler := websocket.Server{
		Handshake: func(config *websocket.Config, r *http.Request) error {
			return checkOrigin(allowedOrigins, r.Header.Get("Origin"))
		},
		Handler: func(conn *websocket.Conn) {
			handleWSConn(conn, relay)
		},
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func checkOrigin(allowed []string, origin string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), origin) {
			return nil
		}
	}
	log.Printf("relay: websocket handshake rejected for origin %q", origin)
	return fmt.Errorf("origin %q is not allowed", origin)
}

// NewServer builds a configured relay server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(config.AllowedOrigins),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

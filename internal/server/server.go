// Package server implements the HTTP server, middleware, and request handlers for the application.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/woozymasta/seeker/internal/config"
	"github.com/woozymasta/seeker/internal/ingest"
	"github.com/woozymasta/seeker/internal/models"
	"github.com/woozymasta/seeker/internal/storage"
)

// Reader is the read side of storage used by the query endpoints.
type Reader interface {
	GetServer(ctx context.Context, address string, port int) (*models.Server, error)
	ListServers(ctx context.Context, limit int) ([]*models.Server, error)
	Stats(ctx context.Context) (*storage.Stats, error)
}

// Intake accepts observations for merging.
type Intake interface {
	Submit(obs ingest.Observation) error
	Process(ctx context.Context, obs ingest.Observation) (*models.Server, error)
	Counters() ingest.Counters
	QueueLen() int
}

// Server holds the dependencies and configuration required to handle HTTP requests.
type Server struct {
	// store answers server lookups, listings and aggregate stats.
	store Reader

	// intake receives observations posted over HTTP or streamed over websocket.
	intake Intake

	// done stops background routines owned by middleware.
	done chan struct{}

	// upgrader switches observation streams to the websocket protocol.
	upgrader websocket.Upgrader

	// authToken is the secret bearer token required by every API endpoint except version.
	authToken string

	// maxBody specifies the maximum allowed size (in bytes) for an incoming observation.
	maxBody int64

	// listLimit caps the number of servers returned by a list request.
	listLimit int

	// hardLimitCount is the maximum number of requests allowed per IP address
	// within the hardLimitWin duration.
	hardLimitCount int

	// hardLimitWin is the time window duration for the hard rate limiter.
	hardLimitWin time.Duration

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}

// New creates a new Server instance with the provided storage reader, intake and configuration.
func New(store Reader, intake Intake, cfg *config.Config) *Server {
	return &Server{
		store:          store,
		intake:         intake,
		authToken:      cfg.Server.AuthToken,
		maxBody:        cfg.Server.MaxBodySize,
		listLimit:      cfg.Server.ListLimit,
		trustProxy:     cfg.Server.TrustProxy,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
		done:           make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	// One limiter and one auth check in front of every protected route
	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/observation", s.handleObservation)
	protected.HandleFunc("GET /api/observation/ws", s.handleObservationStream)
	protected.HandleFunc("GET /api/server", s.handleGetServer)
	protected.HandleFunc("GET /api/servers", s.handleListServers)
	protected.HandleFunc("GET /api/stats", s.handleStats)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.RateLimitMiddleware(AdminAuthMiddleware(s.authToken, protected)))
	mux.Handle("GET /api/version", http.HandlerFunc(s.handleVersion))

	return s.LoggingMiddleware(mux)
}

// Close stops background routines started by Run.
func (s *Server) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

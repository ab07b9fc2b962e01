package adminapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/directory"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/tokenstore"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Dispatcher is the subset of pkg/dispatcher.Dispatcher the admin API
// needs to submit an analyze request.
type Dispatcher interface {
	Submit(ctx context.Context, req clustertypes.Request) (clustertypes.AnalysisResult, error)
}

// EnginePool is the subset of pkg/enginepool.Pool the admin API needs
// to report pool health.
type EnginePool interface {
	Metrics() enginepool.Metrics
}

// Server is the JSON-over-HTTP control plane: token lifecycle, peer
// directory, analyze submission, and engine pool status. Every route
// but /healthz requires a bearer token.
type Server struct {
	tokens *tokenstore.Store
	dir    *directory.Directory
	disp   Dispatcher
	pool   EnginePool
	logger zerolog.Logger

	httpServer *http.Server
}

// NewServer wires an adminapi.Server around the live cluster
// components. It does not start listening until Serve is called.
func NewServer(tokens *tokenstore.Store, dir *directory.Directory, disp Dispatcher, pool EnginePool) *Server {
	s := &Server{
		tokens: tokens,
		dir:    dir,
		disp:   disp,
		pool:   pool,
		logger: log.WithComponent("adminapi"),
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	r.HandleFunc("/v1/tokens", s.authenticate(s.handleCreateToken)).Methods(http.MethodPost)
	r.HandleFunc("/v1/tokens", s.authenticate(s.handleListTokens)).Methods(http.MethodGet)
	r.HandleFunc("/v1/tokens/{id}", s.authenticate(s.handleRevokeToken)).Methods(http.MethodDelete)

	r.HandleFunc("/v1/peers", s.authenticate(s.handleListPeers)).Methods(http.MethodGet)
	r.HandleFunc("/v1/pool", s.authenticate(s.handlePoolMetrics)).Methods(http.MethodGet)
	r.HandleFunc("/v1/analyze", s.authenticate(s.handleAnalyze)).Methods(http.MethodPost)
	return r
}

// Serve starts the HTTP listener and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("adminapi listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

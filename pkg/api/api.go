package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ServerConfig
	dbCfg      *config.DatabaseConfig
	store      datasetstore.Store
	cache      *cache.Cache
	metrics    *metrics
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server serving the mirrored datasets.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	dbCfg *config.DatabaseConfig,
) Server {
	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		dbCfg: dbCfg,
		done:  make(chan struct{}),
	}
}

// Start opens the store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = datasetstore.NewStore(s.log, s.dbCfg)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		if serr := s.store.Stop(); serr != nil {
			s.log.WithError(serr).Warn("Failed to close store")
		}

		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// handler prepares the lookup cache and metrics and returns the router.
func (s *server) handler() http.Handler {
	ttl := s.cfg.GetCacheTTL()

	s.cache = cache.New(ttl, 2*ttl)
	s.metrics = newMetrics()

	return s.buildRouter()
}

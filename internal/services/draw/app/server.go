// Package app hosts the HTTP surface of the entropy service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/entropyd/entropyd/internal/draw"
	"github.com/entropyd/entropyd/internal/platform/timeouts"
	"github.com/entropyd/entropyd/internal/pool"
	"github.com/entropyd/entropyd/internal/pool/storage"
)

// Drawer produces one-shot draws through the fallback chain.
type Drawer interface {
	Generate(ctx context.Context, req draw.Request) (draw.Result, error)
}

// PoolReporter exposes the read-only pool snapshot.
type PoolReporter interface {
	Status(ctx context.Context) (pool.Status, error)
}

// SessionManager owns hash-chain session lifecycle and draws.
type SessionManager interface {
	Create(ctx context.Context) (storage.ChainSession, error)
	Draw(ctx context.Context, id string, req draw.Request) (draw.Result, error)
	Reseed(ctx context.Context, id string) (storage.ChainSession, error)
	Delete(ctx context.Context, id string) error
}

// Server hosts the draw API over HTTP.
type Server struct {
	addr       string
	httpServer *http.Server
}

// NewServer wires the HTTP routes over the domain services.
func NewServer(addr string, drawer Drawer, reporter PoolReporter, sessions SessionManager) *Server {
	handler := newHandler(drawer, reporter, sessions)
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler.routes(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("draw server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("draw api listening on %s", s.addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
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

package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/odvcencio/gitserve/pkg/repo"
)

// DefaultPort is the conventional port for this service class.
const DefaultPort = 9418

const defaultMaxWalks = 8

// ServerOptions tune a Server. The zero value is usable.
type ServerOptions struct {
	// MaxConcurrentWalks caps simultaneous negotiation walks, the
	// server's backpressure mechanism against many clients fetching
	// large histories at once. Zero means the default.
	MaxConcurrentWalks int
	// IdleTimeout closes connections idle at a protocol boundary.
	// Zero disables the timeout.
	IdleTimeout time.Duration
}

// Server accepts connections and runs the per-connection protocol state
// machine. The accept loop is single-purpose: it never blocks on
// per-connection work, which runs one goroutine per connection.
type Server struct {
	backend     repo.Backend
	log         *zap.Logger
	walks       *semaphore.Weighted
	idleTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a Server around an injected backend.
func NewServer(backend repo.Backend, log *zap.Logger, opts ServerOptions) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	maxWalks := opts.MaxConcurrentWalks
	if maxWalks <= 0 {
		maxWalks = defaultMaxWalks
	}
	return &Server{
		backend:     backend,
		log:         log,
		walks:       semaphore.NewWeighted(int64(maxWalks)),
		idleTimeout: opts.IdleTimeout,
	}
}

// ListenAndServe binds addr (host:port) and serves until ctx is
// canceled. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is canceled. Each accepted
// connection runs independently; a connection's failure never
// terminates the server.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	s.log.Info("serving", zap.String("addr", l.Addr().String()))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("server shutting down")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient accept failures (fd exhaustion etc.)
			// should not kill the daemon.
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			newConn(s, nc).serve(ctx)
		}()
	}
}

// Addr returns the bound listener address, for tests that bind port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

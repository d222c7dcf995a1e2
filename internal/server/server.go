package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/filesync/internal/identity"
	"github.com/openmined/filesync/internal/ignore"
	"github.com/openmined/filesync/internal/server/store"
	"github.com/openmined/filesync/internal/utils"
	"github.com/openmined/filesync/internal/wire"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const lockFile = ".filesync-server.lock"

var ErrRootLocked = errors.New("storage root locked by another server")

type Server struct {
	config  *Config
	store   store.MetadataStore
	ignore  *ignore.List
	limiter *limiter.Limiter
	conns   *semaphore.Weighted
	lock    *flock.Flock

	listener net.Listener
	ready    chan struct{}
	handlers sync.WaitGroup
	now      func() time.Time
}

// New validates cfg and opens the metadata store. Nothing listens until Start.
func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := utils.EnsureDir(cfg.RootPath); err != nil {
		return nil, fmt.Errorf("failed to create root %s: %w", cfg.RootPath, err)
	}

	ignoreList, err := ignore.New(cfg.RootPath, []string{lockFile}, cfg.Exclude)
	if err != nil {
		return nil, err
	}

	var rl *limiter.Limiter
	if cfg.RateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		rl = limiter.New(memory.NewStore(), rate)
	}

	sqlStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:  cfg,
		store:   store.NewCachedStore(sqlStore, cfg.ClientCacheSize, 0),
		ignore:  ignoreList,
		limiter: rl,
		conns:   semaphore.NewWeighted(int64(cfg.MaxConnections)),
		lock:    flock.New(filepath.Join(cfg.RootPath, lockFile)),
		ready:   make(chan struct{}),
		now:     time.Now,
	}, nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. Only valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves until ctx is cancelled, then stops accepting, gives in-flight sessions a
// grace period and closes the store.
func (s *Server) Start(ctx context.Context) error {
	defer s.store.Close()

	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock root: %w", err)
	}
	if !locked {
		return ErrRootLocked
	}
	defer s.lock.Unlock()

	ln, err := net.Listen("tcp", s.config.Bind)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Bind, err)
	}
	s.listener = ln
	close(s.ready)

	slog.Info("filesync server start",
		"addr", ln.Addr().String(),
		"root", s.config.RootPath,
		"db", s.config.DBPath,
		"fingerprint", identity.Fingerprint(s.config.PublicKey),
		"maxConnections", s.config.MaxConnections,
	)
	defer slog.Info("filesync server stop")

	// sessions outlive ctx by the shutdown grace period
	sessionCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.acceptLoop(egCtx, sessionCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		return ln.Close()
	})
	err = eg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.drain(cancelSessions)
	return err
}

func (s *Server) drain(cancelSessions context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownGrace):
		slog.Warn("shutdown grace period over, closing active sessions")
		cancelSessions()
		<-done
	}
}

func (s *Server) acceptLoop(ctx, sessionCtx context.Context) error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Warn("accept", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.admit(ctx, nc) {
			continue
		}

		// blocks the accept loop while the server is at capacity
		if err := s.conns.Acquire(ctx, 1); err != nil {
			nc.Close()
			return nil
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.conns.Release(1)
			s.serveConn(sessionCtx, nc)
		}()
	}
}

// admit applies the per-address rate limit. Rejected peers get an Error frame.
func (s *Server) admit(ctx context.Context, nc net.Conn) bool {
	if s.limiter == nil {
		return true
	}
	host, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		host = nc.RemoteAddr().String()
	}

	lctx, err := s.limiter.Get(ctx, host)
	if err != nil {
		slog.Error("rate limiter", "error", err)
		return true
	}
	if !lctx.Reached {
		return true
	}

	slog.Warn("rate limit exceeded", "remote", host, "limit", lctx.Limit)
	conn := wire.NewConn(ctx, nc, wire.Options{WriteTimeout: time.Second})
	_ = conn.WriteError("rate limit exceeded")
	conn.Close()
	return false
}

// serveConn runs one session. Failures and panics stay inside the connection.
func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	logger := slog.With("remote", nc.RemoteAddr().String())

	if s.config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SessionTimeout)
		defer cancel()
	}

	conn := wire.NewConn(ctx, nc, wire.Options{
		MaxFrameSize: s.config.MaxFrameSize,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	})
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	h := &handler{
		conn:   conn,
		store:  s.store,
		ignore: s.ignore,
		root:   s.config.RootPath,
		log:    logger,
		now:    s.now,
	}
	start := time.Now()
	if err := h.run(ctx); err != nil {
		logger.Warn("session failed", "client", h.clientID, "error", err)
		return
	}
	logger.Debug("session closed", "client", h.clientID, "took", time.Since(start).Round(time.Millisecond))
}

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/wirectl/internal/auth"
	"github.com/danmuck/wirectl/internal/conn"
	"github.com/danmuck/wirectl/internal/observability"
	"github.com/danmuck/wirectl/internal/protocol/codec"
	"github.com/danmuck/wirectl/internal/protocol/handshake"
	"github.com/danmuck/wirectl/internal/session"
	"github.com/danmuck/wirectl/internal/throttle"
	"github.com/danmuck/wirectl/internal/transport"
)

var ErrTooManyConnections = errors.New("server: connection limit reached")

type Option func(*Server)

func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

func WithRunner(r session.Runner) Option {
	return func(s *Server) { s.runner = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server accepts protocol connections and runs one handler per connection.
type Server struct {
	cfg    Config
	auth   auth.Authenticator
	runner session.Runner
	logger zerolog.Logger

	registry *Registry
	started  time.Time
	ready    atomic.Bool
	conns    sync.WaitGroup
	// inflight counts accepted connections from Accept until teardown,
	// including those still in the handshake.
	inflight atomic.Int64
	rng      *rand.Rand
}

func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Executor = strings.ToLower(strings.TrimSpace(cfg.Executor))
	s := &Server{
		cfg:      cfg,
		logger:   log.Logger,
		registry: NewRegistry(),
		started:  time.Now(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = runnerFor(cfg.Runner)
	}
	if s.auth == nil {
		s.auth = auth.AnyPrincipal{}
	}
	observability.RegisterMetrics()
	return s, nil
}

func runnerFor(name string) session.Runner {
	if strings.EqualFold(strings.TrimSpace(name), RunnerKV) {
		return session.NewKVRunner()
	}
	return session.EchoRunner{}
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// InFlight reports accepted connections that have not finished teardown.
func (s *Server) InFlight() int {
	return int(s.inflight.Load())
}

func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Run listens on the protocol and admin addresses and blocks until ctx is
// cancelled or either listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Str("executor", s.cfg.Executor).Msg("protocol listener ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.AdminRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.logger.Info().Str("addr", addr).Msg("admin listener ready")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Listen opens the protocol listener, with TLS when configured.
func (s *Server) Listen() (net.Listener, error) {
	tlsCfg, err := s.cfg.Security.ServerTLS()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return net.Listen("tcp", s.cfg.Addr)
	}
	return tls.Listen("tcp", s.cfg.Addr, tlsCfg)
}

// Serve accepts on ln until ctx is cancelled, then interrupts every live
// connection and waits for their teardown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	s.ready.Store(true)
	defer s.ready.Store(false)
	defer s.conns.Wait()
	defer s.registry.interruptAll()

	attempt := 0
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if !isTemporary(err) {
				return err
			}
			attempt++
			delay := s.cfg.Session.Backoff.Delay(attempt, s.rng)
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		if limit := s.cfg.Limits.MaxConnections; limit > 0 && s.inflight.Load() >= int64(limit) {
			s.logger.Warn().Str("remote", raw.RemoteAddr().String()).Err(ErrTooManyConnections).Msg("connection refused")
			observability.RecordAccepted("refused", 0)
			_ = raw.Close()
			continue
		}
		s.inflight.Add(1)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer s.inflight.Add(-1)
			s.handleConn(ctx, raw)
		}()
	}
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	if errors.As(err, &te) && te.Temporary() {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	remote := raw.RemoteAddr().String()
	logger := s.logger.With().Str("remote", remote).Logger()

	_ = raw.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	version, err := handshake.Negotiate(raw, codec.Versions())
	if err != nil {
		observability.RecordAccepted("rejected", 0)
		logger.Warn().Err(err).Msg("handshake failed")
		_ = raw.Close()
		return
	}
	_ = raw.SetDeadline(time.Time{})
	observability.RecordAccepted("accepted", version)

	cdc, err := codec.ForVersion(version, s.cfg.protocolLimits())
	if err != nil {
		logger.Error().Err(err).Uint32("version", version).Msg("no codec for negotiated version")
		_ = raw.Close()
		return
	}

	id := uuid.NewString()
	logger = logger.With().Str("conn_id", id).Logger()
	ch := transport.NewNetChannel(raw, s.cfg.Session.WriteTimeout)
	sink := observability.NewSink(logger, id)
	machine := session.NewMachine(session.Options{
		Server:        s.cfg.Name,
		ConnectionID:  id,
		Authenticator: s.auth,
		Runner:        s.runner,
		Config:        s.cfg.Session,
		Logger:        logger,
	})
	exec := s.newExecutor(machine, sink)
	h, err := conn.NewHandler(conn.HandlerConfig{
		ID:               id,
		Channel:          ch,
		Codec:            cdc,
		Executor:         exec,
		Gate:             s.newGate(exec),
		Sink:             sink,
		OutputBufferSize: s.cfg.Limits.OutputBufferBytes,
	})
	if err != nil {
		logger.Error().Err(err).Msg("handler setup failed")
		_ = exec.Close()
		_ = ch.Close()
		return
	}

	e := &entry{id: id, remote: remote, opened: time.Now(), raw: raw, handler: h, channel: ch}
	s.registry.add(e)
	observability.RecordOpened()
	logger.Info().Uint32("version", version).Msg("connection opened")

	defer func() {
		_ = h.Close()
		_ = ch.Close()
		s.registry.remove(id)
		stats := observability.ConnStats{
			Lifetime:     time.Since(e.opened),
			BytesRead:    e.bytesRead.Load(),
			BytesWritten: ch.Stats().BytesWritten,
		}
		if d, ok := exec.(*conn.Deferred); ok {
			stats.Executed = d.Executed()
			stats.Discarded = d.Discarded()
		}
		observability.RecordClosed(stats)
		logger.Info().
			Dur("lifetime", stats.Lifetime).
			Int64("bytes_read", stats.BytesRead).
			Int64("bytes_written", stats.BytesWritten).
			Msg("connection closed")
	}()

	s.readLoop(ctx, e)
}

// readLoop is the connection's dispatch goroutine.
func (s *Server) readLoop(ctx context.Context, e *entry) {
	buf := make([]byte, s.cfg.Limits.ReadBufferBytes)
	for {
		if err := e.handler.AwaitCapacity(ctx); err != nil {
			return
		}
		observability.RecordBacklog(e.handler.Backlog())

		deadline := time.Time{}
		if s.cfg.Session.ReadTimeout > 0 {
			deadline = time.Now().Add(s.cfg.Session.ReadTimeout)
		}
		_ = e.raw.SetReadDeadline(deadline)
		if e.kicked.Load() || ctx.Err() != nil {
			return
		}

		n, err := e.raw.Read(buf)
		if n > 0 {
			e.bytesRead.Add(int64(n))
			if herr := e.handler.Handle(buf[:n]); herr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) newExecutor(m conn.Machine, sink conn.Sink) conn.Executor {
	if s.cfg.Executor == ExecutorInline {
		return conn.NewInline(m, sink)
	}
	return conn.NewDeferred(m, sink, conn.DeferredOptions{DrainTimeout: s.cfg.Session.DrainTimeout})
}

func (s *Server) newGate(exec conn.Executor) conn.Gate {
	var gates []conn.Gate
	if s.cfg.Throttle.BytesPerSecond > 0 {
		gates = append(gates, throttle.NewRateGate(s.cfg.Throttle.BytesPerSecond, s.cfg.Throttle.BurstBytes))
	}
	if s.cfg.Throttle.BacklogHigh > 0 && s.cfg.Executor == ExecutorDeferred {
		if g, err := throttle.NewBacklogGate(exec.Backlog, s.cfg.Throttle.BacklogHigh, s.cfg.Throttle.BacklogLow); err == nil {
			gates = append(gates, g)
		}
	}
	return throttle.Chain(gates...)
}

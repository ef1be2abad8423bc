package farmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/broker"
	"pkt.systems/farmd/internal/broker/memory"
	"pkt.systems/farmd/internal/clock"
	"pkt.systems/farmd/internal/farm"
	"pkt.systems/farmd/internal/httpapi"
	"pkt.systems/farmd/internal/rpc"
	"pkt.systems/farmd/internal/svcfields"
	"pkt.systems/farmd/internal/transport"
)

// Server wraps the farm ledger, the consumption scheduler, the broker RPC
// dispatcher, and the REST listener.
type Server struct {
	cfg        Config
	logger     pslog.Logger
	clock      clock.Clock
	broker     broker.Broker
	ownBroker  bool
	ledger     *farm.Ledger
	scheduler  *farm.Scheduler
	dispatcher *rpc.Dispatcher
	handler    *httpapi.Handler
	httpSrv    *http.Server
	listener   net.Listener
	socketPath string
	metrics    *farmMetrics
	metricsSrv *http.Server
	metricsLn  net.Listener

	mu           sync.Mutex
	shutdown     bool
	lastServeErr error
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger pslog.Logger
	Clock  clock.Clock
	Broker broker.Broker
	Draw   func() float64
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithBroker injects a pre-built broker so external producers can share it
// with the server. Without it the server runs its own in-memory broker.
func WithBroker(b broker.Broker) Option {
	return func(o *options) {
		o.Broker = b
	}
}

// WithDraw overrides the consumption draw source (useful for tests).
func WithDraw(draw func() float64) Option {
	return func(o *options) {
		o.Draw = draw
	}
}

// NewServer constructs a farmd server according to cfg.
// Example:
//
//	cfg := farmd.Config{Listen: ":9441"}
//	srv, err := farmd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := o.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		readyCh: make(chan struct{}),
	}

	s.broker = o.Broker
	if s.broker == nil {
		s.broker = memory.New(memory.WithLogger(logger))
		s.ownBroker = true
	}

	var metrics farm.Metrics = farm.NopMetrics{}
	if cfg.MetricsListen != "" {
		s.metrics = newFarmMetrics()
		metrics = s.metrics
	}

	ledgerOpts := []farm.Option{
		farm.WithClock(clk),
		farm.WithLogger(logger),
		farm.WithMetrics(metrics),
	}
	if o.Draw != nil {
		ledgerOpts = append(ledgerOpts, farm.WithDraw(o.Draw))
	}
	s.ledger = farm.NewLedger(farm.Config{
		BaseRate:        cfg.BaseRate,
		GrowthRate:      cfg.GrowthRate,
		MaxCoefficient:  cfg.MaxCoefficient,
		MaxFailRounds:   cfg.MaxFailRounds,
		MaxFarmSize:     cfg.MaxFarmSize,
		SellingDuration: cfg.SellingDuration,
	}, ledgerOpts...)
	if s.metrics != nil {
		s.metrics.observeLedger(s.ledger)
	}

	s.scheduler = farm.NewScheduler(s.ledger, cfg.TickInterval,
		farm.WithSchedulerClock(clk),
		farm.WithSchedulerLogger(logger),
	)

	s.dispatcher = rpc.NewDispatcher(s.broker, cfg.InboundQueue,
		rpc.WithDispatcherLogger(logger),
	)
	s.dispatcher.Register(api.ActionSubmitFood, s.submitHandler(farm.Food))
	s.dispatcher.Register(api.ActionSubmitWater, s.submitHandler(farm.Water))

	s.handler = httpapi.New(httpapi.Config{
		Farm:         s.ledger,
		Logger:       logger,
		JSONMaxBytes: cfg.JSONMaxBytes,
	})
	mux := http.NewServeMux()
	s.handler.Register(mux)
	s.httpSrv = &http.Server{
		Handler: mux,
	}

	return s, nil
}

// submitHandler adapts one ledger submission kind to the dispatcher.
func (s *Server) submitHandler(kind farm.Kind) rpc.HandlerFunc {
	return func(_ context.Context, payload []byte) (any, error) {
		var req api.SubmitRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, transport.Failure{
				Code:   "invalid_payload",
				Detail: err.Error(),
			}
		}
		return s.ledger.Submit(kind, req.Amount), nil
	}
}

// Farm exposes the ledger for in-process inspection.
func (s *Server) Farm() *farm.Ledger {
	return s.ledger
}

// Broker exposes the broker so in-process producers can build RPC clients
// against the same transport.
func (s *Server) Broker() broker.Broker {
	return s.broker
}

// Handler returns the REST handler, useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	if err := s.dispatcher.Start(); err != nil {
		return err
	}
	s.scheduler.Start()
	if s.metrics != nil {
		srv, ln, err := startMetricsServer(s.cfg.MetricsListen, s.metrics.handler(), s.logger)
		if err != nil {
			return err
		}
		s.metricsSrv = srv
		s.metricsLn = ln
		s.logger.Info("metrics.enabled", "listen", s.cfg.MetricsListen)
	}
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale unix socket: %w", err)
		}
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.listener = ln
	if s.cfg.ListenProto == "unix" {
		s.socketPath = s.cfg.Listen
	}
	s.signalReady()
	logger := svcfields.WithSubsystem(s.logger, "server")
	logger.Info("listening",
		"network", s.cfg.ListenProto,
		"address", ln.Addr().String(),
		"queue", s.cfg.InboundQueue,
	)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error will be nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		s.metricsSrv = nil
	}
	if s.metricsLn != nil {
		_ = s.metricsLn.Close()
		s.metricsLn = nil
	}
	if err := s.dispatcher.Close(); err != nil {
		return err
	}
	s.scheduler.Stop()
	if s.ownBroker {
		if err := s.broker.Close(); err != nil {
			return err
		}
	}
	if s.cfg.ListenProto == "unix" && s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

// MetricsAddr returns the bound metrics listener address, or nil when metrics
// are disabled or not yet started.
func (s *Server) MetricsAddr() net.Addr {
	if l := s.metricsLn; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.lastServeErr = err
	}
}

// LastServeError reports the most recent fatal serve error, if any.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer builds a server, runs it in the background, and waits for the
// listener to come up. The returned stop function shuts everything down.
// Example:
//
//	srv, stop, err := farmd.StartServer(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}

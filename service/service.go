package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-web/config"
	"github.com/saiset-co/sai-web/controller"
	"github.com/saiset-co/sai-web/health"
	"github.com/saiset-co/sai-web/logger"
	"github.com/saiset-co/sai-web/metrics"
	"github.com/saiset-co/sai-web/middleware"
	"github.com/saiset-co/sai-web/policy"
	"github.com/saiset-co/sai-web/sai"
	"github.com/saiset-co/sai-web/server"
	"github.com/saiset-co/sai-web/session"
	"github.com/saiset-co/sai-web/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const CSRFTokenPath = "/csrfToken"

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	container       *sai.Container

	config      *config.ConfigurationManager
	logger      *logger.Manager
	metrics     types.MetricsManager
	sessions    types.SessionStore
	routes      *server.RouteTable
	policies    *policy.Manager
	controllers *controller.Registry
	health      *health.Manager
	middlewares *middleware.Manager
	httpServer  *server.FastHTTPServer
}

// NewService loads configPath and builds every component. Nothing listens
// until Ready or Start.
func NewService(ctx context.Context, configPath string, options middleware.Options) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return newService(ctx, configManager, options)
}

// NewServiceWithConfig builds a service around an in-memory configuration.
func NewServiceWithConfig(ctx context.Context, cfg *types.ServiceConfig, options middleware.Options) (*Service, error) {
	configManager, err := config.NewStaticManager(ctx, cfg, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return newService(ctx, configManager, options)
}

func newService(ctx context.Context, configManager *config.ConfigurationManager, options middleware.Options) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		container:       sai.InitContainer(),
		config:          configManager,
	}
	s.state.Store(StateStopped)

	if err := s.registerProviders(options); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	sai.SetContainer(s.container)
	return s, nil
}

func (s *Service) registerProviders(options middleware.Options) error {
	var err error

	s.container.SetConfig(s.config)
	cfg := s.config.GetConfig()

	if s.logger, err = logger.NewManager(s.ctx, s.config); err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	s.container.SetLogger(s.logger)

	if s.metrics, err = metrics.NewManager(s.ctx, s.config, s.logger); err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}

	if options.SessionStore != nil {
		s.sessions = options.SessionStore
	} else if s.sessions, err = session.NewStore(s.ctx, cfg.Session, s.logger); err != nil {
		return types.WrapError(err, "failed to register session store")
	}

	s.policies = policy.NewManager(s.logger, s.metrics, policy.NewRegistry())
	if err := policy.RegisterBuiltins(s.policies.Registry(), cfg.Auth); err != nil {
		return types.WrapError(err, "failed to register builtin policies")
	}

	s.routes = server.NewRouteTable(s.logger)
	s.container.SetRoutes(s.routes)

	s.controllers = controller.NewRegistry(s.policies.Gate)

	if cfg.Health != nil && cfg.Health.Enabled {
		s.health = health.NewManager(s.ctx, s.config, s.logger)
		s.health.RegisterChecker("server", func(ctx context.Context) types.HealthCheck {
			return health.LifecycleChecker(s.httpServer)(ctx)
		})
		s.health.RegisterChecker("sessions", s.sessionChecker())
	}

	options.SessionStore = s.sessions
	options.Router = s.routes
	s.middlewares = middleware.NewManager(s.config, s.logger, s.metrics, options)

	if s.httpServer, err = server.NewHTTPServer(s.ctx, s.config, s.logger, s.middlewares); err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}

	return nil
}

func (s *Service) sessionChecker() types.HealthChecker {
	if pinger, ok := s.sessions.(types.Pinger); ok {
		return health.PingChecker(pinger.Ping)
	}
	return health.LifecycleChecker(s.sessions)
}

// RegisterPolicy makes fn available to the policy configuration under name.
func (s *Service) RegisterPolicy(name string, fn types.Policy) error {
	return s.policies.Register(name, fn)
}

// RegisterController exposes actions as "<controller>/<action>" routes.
func (s *Service) RegisterController(name string, actions map[string]types.Action) error {
	return s.controllers.Register(name, actions)
}

// Use queues a custom pipeline stage. It must be called before Ready.
func (s *Service) Use(stage types.Stage) error {
	return s.middlewares.Register(stage)
}

// Router exposes the route table for routes outside the controller registry.
func (s *Service) Router() *server.RouteTable {
	return s.routes
}

func (s *Service) Routes() []types.Route {
	return s.routes.Routes()
}

func (s *Service) Stages() []string {
	return s.middlewares.Stages()
}

// Ready binds routes, configures the pipeline and starts listening on the
// configured address without blocking.
func (s *Service) Ready() error {
	return s.ready(s.httpServer.Start)
}

// ServeListener is Ready on a caller-supplied listener.
func (s *Service) ServeListener(ln net.Listener) error {
	return s.ready(func() error { return s.httpServer.Serve(ln) })
}

func (s *Service) ready(listen func() error) error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service start panic", zap.Stack(string(buf[:n])))
			}
		}()

		runErr = s.start(listen)
	}()

	if runErr != nil {
		if err := s.stopComponents(); err != nil {
			s.logger.Error("Error during failed start cleanup", zap.Error(err))
		}
		s.setState(StateStopped)
		return runErr
	}

	s.setState(StateRunning)

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully", zap.Int("routes", s.routes.Len()))
	return nil
}

func (s *Service) start(listen func() error) error {
	cfg := s.config.GetConfig()

	if err := s.policies.Load(cfg.Policies); err != nil {
		return types.WrapError(err, "failed to load policies")
	}

	if err := s.bindRoutes(cfg); err != nil {
		return types.WrapError(err, "failed to bind routes")
	}

	if err := s.middlewares.Configure(); err != nil {
		return types.WrapError(err, "failed to configure middleware")
	}

	if err := s.startComponents(); err != nil {
		return types.WrapError(err, "failed to start components")
	}

	if err := listen(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	return nil
}

func (s *Service) bindRoutes(cfg *types.ServiceConfig) error {
	if err := s.controllers.Bind(s.routes); err != nil {
		return err
	}

	if s.health != nil {
		if err := s.health.Bind(s.routes); err != nil {
			return err
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		handler := s.metrics.Handler()
		err := s.routes.Bind(types.Route{
			Verb: http.MethodGet,
			Path: cfg.Metrics.Path,
			Target: func(ctx *types.RequestCtx) error {
				handler(ctx.RequestCtx)
				ctx.MarkResponded()
				return nil
			},
		})
		if err != nil {
			return err
		}
	}

	if cfg.Controllers != nil && cfg.Controllers.CSRF {
		err := s.routes.Bind(types.Route{
			Verb: http.MethodGet,
			Path: CSRFTokenPath,
			Target: func(ctx *types.RequestCtx) error {
				return ctx.JSON(http.StatusOK, map[string]string{"_csrf": ctx.CSRFToken()})
			},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Start runs the service until a shutdown signal arrives or Stop is called.
// SIGHUP reloads the configuration and the policy table.
func (s *Service) Start() error {
	if err := s.Ready(); err != nil {
		return err
	}

	s.setupSignalHandling()

	<-s.done
	s.wg.Wait()

	return nil
}

// Stop cancels the service and waits for its components to shut down.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	<-s.done
	return nil
}

// Reload re-reads the configuration and recompiles policies. The new
// configuration is kept only when its policy table compiles; otherwise both
// stay as they were.
func (s *Service) Reload() error {
	err := s.config.LoadWith(func(cfg *types.ServiceConfig) error {
		if err := s.policies.Load(cfg.Policies); err != nil {
			return types.WrapError(err, "failed to load policies")
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Configuration reload failed", zap.Error(err))
		return err
	}

	s.logger.Info("Configuration reloaded")
	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) startComponents() error {
	ordered := []struct {
		name      string
		component types.LifecycleManager
	}{
		{"config manager", s.config},
		{"logger", s.logger},
		{"metrics manager", s.metrics},
		{"session store", s.sessions},
	}
	if s.health != nil {
		ordered = append(ordered, struct {
			name      string
			component types.LifecycleManager
		}{"health manager", s.health})
	}

	for _, c := range ordered {
		if c.component.IsRunning() {
			continue
		}
		if err := c.component.Start(); err != nil {
			return types.WrapError(err, "failed to start "+c.name)
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errors []error

	s.logger.Info("Stopping service components...")

	if s.httpServer.IsRunning() {
		if err := s.httpServer.Stop(); err != nil {
			s.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errors = append(errors, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	stop := func(name string, manager types.LifecycleManager) {
		if manager == nil || !manager.IsRunning() {
			return
		}
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := manager.Stop(); err != nil {
					s.logger.Error("Failed to stop "+name, zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	stop("session store", s.sessions)
	stop("metrics manager", s.metrics)
	if s.health != nil {
		stop("health manager", s.health)
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errors = append(errors, err)
		}
	}

	if s.config.IsRunning() {
		if err := s.config.Stop(); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errors)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGHUP,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(sigChan)

		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					_ = s.Reload()
					continue
				}

				s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
				if s.transitionState(StateRunning, StateStopping) {
					s.cancel()
				}
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.setState(StateStopped)
	s.logger.Info("Service stopped gracefully")

	if s.logger.IsRunning() {
		_ = s.logger.Stop()
	}
}

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-web/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	middlewares     types.MiddlewareManager
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(ctx context.Context, config types.ConfigManager, logger types.Logger, middlewares types.MiddlewareManager) (*FastHTTPServer, error) {
	if middlewares == nil {
		return nil, types.ErrHandlerIsNil
	}

	serverConfig := config.GetConfig().Server
	if serverConfig == nil || serverConfig.HTTP == nil {
		return nil, types.ErrConfigIsNil
	}

	shutdownTimeout := 5 * time.Second
	if serverConfig.HTTP.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(serverConfig.HTTP.ShutdownTimeout) * time.Second
	}

	tlsConfig := serverConfig.TLS
	if tlsConfig == nil {
		tlsConfig = &types.TLSConfig{}
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		middlewares:     middlewares,
		httpConfig:      serverConfig.HTTP,
		tlsConfig:       tlsConfig,
		shutdownTimeout: shutdownTimeout,
	}

	server.state.Store(StateStopped)

	return server, nil
}

// Handler wraps each request in a types.RequestCtx and runs the pipeline.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		h.middlewares.Execute(types.NewRequestCtx(h.ctx, ctx))
	}
}

func (h *FastHTTPServer) Start() error {
	var tlsConfig *tls.Config
	if h.tlsConfig.Enabled {
		var err error
		if tlsConfig, err = LoadTLSConfig(h.tlsConfig); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	ln, err := listen(addr, tlsConfig)
	if err != nil {
		return types.WrapError(err, "HTTP listener failed")
	}

	if err := h.Serve(ln); err != nil {
		_ = ln.Close()
		return err
	}

	h.logger.Info("HTTP server started successfully",
		zap.String("address", addr),
		zap.Bool("tls", h.tlsConfig.Enabled))

	return nil
}

// Serve starts accepting connections from ln in the background.
func (h *FastHTTPServer) Serve(ln net.Listener) error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.server = &fasthttp.Server{
		Handler:                      h.Handler(),
		Name:                         "sai-web",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
		Logger:                       serverLogger{logger: h.logger},
	}
	h.listener = ln

	server := h.server
	go func() {
		if err := server.Serve(ln); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)
	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
		return types.WrapError(err, types.ErrServerStopFailed.Error())
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

type serverLogger struct {
	logger types.Logger
}

func (l serverLogger) Printf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

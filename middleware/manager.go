package middleware

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
)

const MaxStages = 64

const (
	StageLogging        = "logging"
	StageMetrics        = "metrics"
	StageCookieParser   = "cookieParser"
	StageSession        = "session"
	StageBodyParser     = "bodyParser"
	StageParseError     = "handleBodyParserError"
	StageRetryJSON      = "retryBodyParserWithJSON"
	StageCSRF           = "csrf"
	StageLocals         = "locals"
	StageMethodOverride = "methodOverride"
	StagePoweredBy      = "poweredBy"
	StageStatic         = "static"
	StageRouter         = "router"
)

// Options carries the pipeline pieces that cannot be expressed in YAML.
type Options struct {
	BodyParser       types.BodyParserFactory
	CookieParser     types.CookieParserFactory
	MethodOverride   types.MethodOverrideFactory
	CustomMiddleware func(*Builder)
	ErrorView        types.ErrorView
	ServerError      types.ErrorHandler
	SessionStore     types.SessionStore
	Router           types.Stage
}

type entry struct {
	name  string
	stage types.Stage
	onErr types.ErrorStage
}

// Manager assembles the ordered stage list once and runs it for every request.
type Manager struct {
	config       types.ConfigManager
	logger       types.Logger
	metrics      types.MetricsManager
	options      Options
	custom       []entry
	stages       []entry
	errorHandler types.ErrorHandler
	mu           sync.Mutex
	finalized    int32
}

func NewManager(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, options Options) *Manager {
	return &Manager{
		config:  config,
		logger:  logger,
		metrics: metrics,
		options: options,
	}
}

// Register queues a custom stage; it runs in the custom-middleware slot.
// A stage that also implements types.ErrorStage takes part in the error path.
func (m *Manager) Register(stage types.Stage) error {
	if stage == nil || stage.Name() == "" {
		return types.ErrStageInvalid
	}

	e := entry{name: stage.Name(), stage: stage}
	if es, ok := stage.(types.ErrorStage); ok {
		e.onErr = es
	}
	return m.queue(e)
}

func (m *Manager) RegisterError(stage types.ErrorStage) error {
	if stage == nil || stage.Name() == "" {
		return types.ErrStageInvalid
	}
	return m.queue(entry{name: stage.Name(), onErr: stage})
}

func (m *Manager) queue(e entry) error {
	if atomic.LoadInt32(&m.finalized) == 1 {
		return types.Errorf(types.ErrPipelineFinalized, "cannot register stage %s", e.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.custom {
		if existing.name == e.name {
			return types.Errorf(types.ErrStageDuplicate, "stage: %s", e.name)
		}
	}
	if len(m.custom) >= MaxStages {
		return types.NewErrorf("maximum stage count exceeded: %d", MaxStages)
	}

	m.custom = append(m.custom, e)
	return nil
}

// Configure builds the pipeline from configuration and options. It runs once.
func (m *Manager) Configure() error {
	if atomic.LoadInt32(&m.finalized) == 1 {
		return types.ErrPipelineFinalized
	}

	cfg := m.config.GetConfig()
	httpCfg := cfg.HTTP
	if httpCfg == nil {
		return types.Errorf(types.ErrConfigIsNil, "http pipeline config")
	}

	var stages []entry
	add := func(stage types.Stage) {
		e := entry{name: stage.Name(), stage: stage}
		if es, ok := stage.(types.ErrorStage); ok {
			e.onErr = es
		}
		stages = append(stages, e)
	}
	addError := func(stage types.ErrorStage) {
		stages = append(stages, entry{name: stage.Name(), onErr: stage})
	}

	if httpCfg.Logging != nil && httpCfg.Logging.Enabled {
		add(NewLoggingStage(m.logger, httpCfg.Logging))
	}

	add(NewMetricsStage(m.metrics))

	if err := m.configureCookies(cfg, add); err != nil {
		return err
	}

	if err := m.configureBodyParser(httpCfg, add, addError); err != nil {
		return err
	}

	if cfg.Controllers != nil && cfg.Controllers.CSRF {
		add(NewCSRFStage())
	}
	add(NewLocalsStage())

	if factory := m.methodOverrideFactory(httpCfg); factory != nil {
		if stage := factory(httpCfg.MethodOverride); stage != nil {
			add(stage)
		}
	}

	if m.options.CustomMiddleware != nil {
		builder := &Builder{manager: m}
		m.options.CustomMiddleware(builder)
		if builder.err != nil {
			return types.WrapError(builder.err, "custom middleware")
		}
	}

	m.mu.Lock()
	stages = append(stages, m.custom...)
	m.mu.Unlock()

	if httpCfg.PoweredBy != "" {
		add(NewPoweredByStage(httpCfg.PoweredBy))
	}

	if cfg.Paths != nil && cfg.Paths.Public != "" {
		maxAge := 0
		if cfg.Cache != nil {
			maxAge = cfg.Cache.MaxAge
		}
		add(NewStaticStage(cfg.Paths.Public, maxAge))
	}

	if m.options.Router != nil {
		add(m.options.Router)
	}

	seen := make(map[string]struct{}, len(stages))
	for _, e := range stages {
		if _, dup := seen[e.name]; dup {
			return types.Errorf(types.ErrStageDuplicate, "stage: %s", e.name)
		}
		seen[e.name] = struct{}{}
	}

	m.errorHandler = m.buildErrorHandler(cfg)
	m.stages = stages

	if !atomic.CompareAndSwapInt32(&m.finalized, 0, 1) {
		return types.ErrPipelineFinalized
	}

	m.logger.Info("Middleware pipeline configured", zap.Strings("stages", m.Stages()))
	return nil
}

func (m *Manager) configureCookies(cfg *types.ServiceConfig, add func(types.Stage)) error {
	httpCfg := cfg.HTTP
	factory := m.options.CookieParser
	if factory == nil && httpCfg.CookieParser != nil && httpCfg.CookieParser.Enabled {
		factory = NewCookieParser
	}
	if factory == nil {
		return nil
	}

	secret := ""
	if cfg.Session != nil {
		secret = cfg.Session.Secret
	}

	stage, err := factory(secret)
	if err != nil {
		return types.WrapError(err, "failed to create cookie parser")
	}
	add(stage)

	if m.options.SessionStore == nil || cfg.Session == nil {
		return nil
	}

	signer, err := NewCookieSigner(secret)
	if err != nil {
		return err
	}

	add(NewSessionStage(m.options.SessionStore, cfg.Session, signer, m.logger))
	return nil
}

func (m *Manager) configureBodyParser(httpCfg *types.PipelineConfig, add func(types.Stage), addError func(types.ErrorStage)) error {
	parserCfg := httpCfg.BodyParser
	if parserCfg == nil {
		parserCfg = &types.BodyParserConfig{}
	}

	factory := m.options.BodyParser
	if factory == nil && parserCfg.Enabled {
		factory = NewBodyParser
	}
	if factory == nil {
		return nil
	}

	parser := factory(parserCfg)
	if parser == nil {
		return types.Errorf(types.ErrStageInvalid, "body parser factory returned nil")
	}
	add(parser)

	var view types.ErrorView
	if httpCfg.ErrorView != nil && httpCfg.ErrorView.Enabled {
		view = m.options.ErrorView
	}

	addError(NewParseErrorHandler(httpCfg.PoweredBy, view, m.metrics, !parserCfg.RetryWithJSON, m.logger))

	if parserCfg.RetryWithJSON {
		addError(NewJSONRetry(m.metrics, m.logger))
	}
	return nil
}

func (m *Manager) methodOverrideFactory(httpCfg *types.PipelineConfig) types.MethodOverrideFactory {
	if m.options.MethodOverride != nil {
		return m.options.MethodOverride
	}
	if httpCfg.MethodOverride != nil && httpCfg.MethodOverride.Enabled {
		return NewMethodOverride
	}
	return nil
}

func (m *Manager) Stages() []string {
	names := make([]string, 0, len(m.stages))
	for _, e := range m.stages {
		names = append(names, e.name)
	}
	return names
}

// Execute runs the pipeline for one request. While no error is pending only
// regular stages run; once an error is pending only error stages run, and a
// nil result from one of them resumes the regular path. Execution stops when
// a response has been written or the request is abandoned. Leftover errors go
// to the terminal error handler. The request is released on return.
func (m *Manager) Execute(ctx *types.RequestCtx) {
	defer ctx.Release()

	if atomic.LoadInt32(&m.finalized) == 0 {
		m.handleError(ctx, types.ErrPipelineNotConfigured)
		return
	}

	var err error
	for i := range m.stages {
		e := &m.stages[i]

		if ctx.Aborted() {
			return
		}

		if err == nil {
			if ctx.Responded() {
				return
			}
			if e.stage == nil {
				continue
			}
			err = m.runStage(ctx, e)
			continue
		}

		if e.onErr == nil {
			continue
		}
		err = m.runErrorStage(ctx, e, err)
	}

	if err != nil && !ctx.Aborted() {
		m.handleError(ctx, err)
	}
}

func (m *Manager) handleError(ctx *types.RequestCtx, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logPanic(ctx, "error handler", rec)
			writeServerError(ctx)
		}
	}()

	handler := m.errorHandler
	if handler == nil {
		handler = DefaultErrorHandler(m.logger)
	}
	handler(ctx, err)
}

// Builder is handed to Options.CustomMiddleware to add stages in the custom slot.
type Builder struct {
	manager *Manager
	err     error
}

func (b *Builder) Use(stage types.Stage) *Builder {
	if b.err == nil {
		b.err = b.manager.Register(stage)
	}
	return b
}

func (b *Builder) UseFunc(name string, fn func(*types.RequestCtx) error) *Builder {
	if fn == nil {
		b.fail(types.Errorf(types.ErrStageInvalid, "stage %s has no function", name))
		return b
	}
	return b.Use(types.NewStage(name, fn))
}

func (b *Builder) UseError(name string, fn func(*types.RequestCtx, error) error) *Builder {
	if fn == nil {
		b.fail(types.Errorf(types.ErrStageInvalid, "stage %s has no function", name))
		return b
	}
	if b.err == nil {
		b.err = b.manager.RegisterError(types.NewErrorStage(name, fn))
	}
	return b
}

func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

package types

// Stage is one unit of request processing. Returning an error moves the
// pipeline onto its error path.
type Stage interface {
	Name() string
	Handle(ctx *RequestCtx) error
}

// ErrorStage runs only while the pipeline carries an error. Returning nil
// recovers the request and resumes normal stages.
type ErrorStage interface {
	Name() string
	HandleError(ctx *RequestCtx, err error) error
}

type MiddlewareManager interface {
	Configure() error
	Execute(ctx *RequestCtx)
	Stages() []string
}

// ErrorHandler terminates the pipeline for a failed request.
type ErrorHandler func(ctx *RequestCtx, err error)

// ErrorView renders an error page; it reports false when it did not handle the error.
type ErrorView interface {
	Render(ctx *RequestCtx, status int, err error) (bool, error)
}

type BodyParserFactory func(config *BodyParserConfig) Stage

type CookieParserFactory func(secret string) (Stage, error)

type MethodOverrideFactory func(config *MethodOverrideConfig) Stage

type stageFunc struct {
	name string
	fn   func(*RequestCtx) error
}

func NewStage(name string, fn func(*RequestCtx) error) Stage {
	return &stageFunc{name: name, fn: fn}
}

func (s *stageFunc) Name() string                 { return s.name }
func (s *stageFunc) Handle(ctx *RequestCtx) error { return s.fn(ctx) }

type errorStageFunc struct {
	name string
	fn   func(*RequestCtx, error) error
}

func NewErrorStage(name string, fn func(*RequestCtx, error) error) ErrorStage {
	return &errorStageFunc{name: name, fn: fn}
}

func (s *errorStageFunc) Name() string { return s.name }

func (s *errorStageFunc) HandleError(ctx *RequestCtx, err error) error {
	return s.fn(ctx, err)
}

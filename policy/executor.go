package policy

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
)

type State string

const (
	StateResolving State = "RESOLVING"
	StateExecuting State = "EXECUTING"
	StateDenied    State = "DENIED"
	StateFaulted   State = "FAULTED"
	StateAllowed   State = "ALLOWED"
)

// Outcome is the terminal state of one chain run. Index is the position of
// the policy that ended the run, or -1.
type Outcome struct {
	State  State
	Index  int
	Policy string
	Err    error
}

type Executor struct {
	logger types.Logger
}

func NewExecutor(logger types.Logger) *Executor {
	return &Executor{logger: logger}
}

// Run executes chain in order and stops at the first policy that rejects,
// faults or writes a response.
func (e *Executor) Run(ctx *types.RequestCtx, chain Chain) Outcome {
	switch chain.Kind {
	case KindAllow:
		return Outcome{State: StateAllowed, Index: -1}
	case KindDeny:
		return Outcome{State: StateDenied, Index: -1, Err: &types.DeniedError{}}
	}

	for i, p := range chain.Policies {
		if ctx.Aborted() {
			return Outcome{State: StateDenied, Index: i, Policy: p.Name, Err: types.ErrRequestAborted}
		}

		e.logger.Debug("Executing policy", zap.String("policy", p.Name), zap.Int("index", i))

		err := e.call(ctx, p)
		if err == nil {
			if ctx.Responded() {
				return Outcome{State: StateDenied, Index: i, Policy: p.Name}
			}
			continue
		}

		var fault *types.PolicyFault
		if errors.As(err, &fault) {
			return Outcome{State: StateFaulted, Index: i, Policy: p.Name, Err: fault}
		}

		if isRejection(err) {
			var denied *types.DeniedError
			if errors.As(err, &denied) && denied.Policy == "" {
				named := *denied
				named.Policy = p.Name
				err = &named
			}
			return Outcome{State: StateDenied, Index: i, Policy: p.Name, Err: err}
		}

		return Outcome{
			State:  StateFaulted,
			Index:  i,
			Policy: p.Name,
			Err:    &types.PolicyFault{Policy: p.Name, Message: err.Error(), Cause: err},
		}
	}

	return Outcome{State: StateAllowed, Index: -1}
}

func (e *Executor) call(ctx *types.RequestCtx, p NamedPolicy) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &types.PolicyFault{Policy: p.Name, Message: panicMessage(rec)}
		}
	}()

	return p.Fn(ctx)
}

// isRejection reports errors that carry a client status: intentional denials.
func isRejection(err error) bool {
	var coder types.StatusCoder
	if !errors.As(err, &coder) {
		return false
	}
	return coder.StatusCode() < http.StatusInternalServerError
}

func panicMessage(rec interface{}) string {
	switch v := rec.(type) {
	case error:
		return v.Error()
	case string:
		return v
	}
	return fmt.Sprint(rec)
}

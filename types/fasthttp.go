package types

import (
	"context"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-web/utils"
)

// RequestCtx is the per-request state threaded through every pipeline stage.
// It lives for exactly one request/response cycle.
type RequestCtx struct {
	*fasthttp.RequestCtx

	Locals        map[string]interface{}
	Cookies       map[string]string
	SignedCookies map[string]string
	Session       *Session
	Body          interface{}
	RawBody       []byte
	Params        map[string]string
	ErrorView     ErrorView

	ctx       context.Context
	cancel    context.CancelFunc
	csrfToken string
	responded bool
	finish    []func()
}

func NewRequestCtx(parent context.Context, ctx *fasthttp.RequestCtx) *RequestCtx {
	if parent == nil {
		parent = context.Background()
	}

	reqCtx, cancel := context.WithCancel(parent)

	return &RequestCtx{
		RequestCtx:    ctx,
		Locals:        make(map[string]interface{}),
		Cookies:       make(map[string]string),
		SignedCookies: make(map[string]string),
		Params:        make(map[string]string),
		ctx:           reqCtx,
		cancel:        cancel,
	}
}

// Context is cancelled when the request is abandoned or completed.
func (r *RequestCtx) Context() context.Context { return r.ctx }

func (r *RequestCtx) Cancel() { r.cancel() }

func (r *RequestCtx) Aborted() bool { return r.ctx.Err() != nil }

func (r *RequestCtx) CSRFToken() string { return r.csrfToken }

func (r *RequestCtx) SetCSRFToken(token string) {
	r.csrfToken = token
	r.Locals["_csrf"] = token
}

// Param looks up route params, then parsed body fields, then query args.
func (r *RequestCtx) Param(name string) string {
	if v, ok := r.Params[name]; ok {
		return v
	}

	if body, ok := r.Body.(map[string]interface{}); ok {
		if v, ok := body[name]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}

	return string(r.QueryArgs().Peek(name))
}

// Responded reports whether a response has been committed: written through
// JSON, marked with MarkResponded, or given a body. A status code alone does
// not count, so stages may preset one and let the chain continue.
func (r *RequestCtx) Responded() bool {
	return r.responded || len(r.Response.Body()) > 0
}

func (r *RequestCtx) MarkResponded() { r.responded = true }

func (r *RequestCtx) JSON(status int, v interface{}) error {
	data, err := utils.Marshal(v)
	if err != nil {
		return WrapError(err, "failed to marshal response")
	}

	r.SetStatusCode(status)
	r.SetContentType("application/json")
	r.SetBody(data)
	r.responded = true

	return nil
}

// OnFinish registers fn to run after the pipeline completes, latest first.
func (r *RequestCtx) OnFinish(fn func()) {
	r.finish = append(r.finish, fn)
}

func (r *RequestCtx) Release() {
	for i := len(r.finish) - 1; i >= 0; i-- {
		r.finish[i]()
	}
	r.finish = nil
	r.cancel()
}

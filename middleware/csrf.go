package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/saiset-co/sai-web/types"
)

const (
	csrfField       = "_csrf"
	csrfTokenLength = 32
)

var csrfHeaders = []string{"X-CSRF-Token", "X-XSRF-Token", "CSRF-Token"}

// CSRFStage issues a per-session token and checks it on state-changing methods.
type CSRFStage struct{}

func NewCSRFStage() *CSRFStage {
	return &CSRFStage{}
}

func (c *CSRFStage) Name() string { return StageCSRF }

func (c *CSRFStage) Handle(ctx *types.RequestCtx) error {
	if ctx.Session == nil {
		return types.NewHTTPError(http.StatusInternalServerError, "CSRF protection requires a session store")
	}

	token := ctx.Session.CSRFToken
	if token == "" {
		var err error
		if token, err = newCSRFToken(); err != nil {
			return types.WrapError(err, "failed to generate csrf token")
		}
		ctx.Session.SetCSRFToken(token)
	}
	ctx.SetCSRFToken(token)

	if safeMethod(string(ctx.Method())) {
		return nil
	}

	submitted := submittedToken(ctx)
	if submitted == "" {
		return &types.CSRFError{Reason: "CSRF token missing"}
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
		return &types.CSRFError{Reason: "CSRF token mismatch"}
	}

	return nil
}

func submittedToken(ctx *types.RequestCtx) string {
	for _, header := range csrfHeaders {
		if v := ctx.Request.Header.Peek(header); len(v) > 0 {
			return string(v)
		}
	}
	return ctx.Param(csrfField)
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func newCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

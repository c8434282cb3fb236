package utils

import (
	"github.com/valyala/fasthttp"
)

type ErrorItem struct {
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Status int         `json:"status"`
	Errors []ErrorItem `json:"errors"`
}

var fallbackErrorBody = []byte(`{"status":500,"errors":[{"message":"Internal Server Error"}]}`)

// CreateErrorResponse writes the JSON error envelope used by every failed request.
func CreateErrorResponse(ctx *fasthttp.RequestCtx, status int, messages ...string) {
	envelope := ErrorEnvelope{
		Status: status,
		Errors: make([]ErrorItem, 0, len(messages)),
	}
	for _, msg := range messages {
		envelope.Errors = append(envelope.Errors, ErrorItem{Message: msg})
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}

	body, err := Marshal(envelope)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBody(fallbackErrorBody)
		return
	}

	ctx.SetBody(body)
}

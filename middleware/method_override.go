package middleware

import (
	"net/http"
	"strings"

	"github.com/saiset-co/sai-web/types"
)

const (
	methodOverrideHeader = "X-HTTP-Method-Override"
	defaultOverrideField = "_method"
)

var overridableMethods = map[string]bool{
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// MethodOverride lets a POST stand in for PUT, PATCH or DELETE.
type MethodOverride struct {
	field string
}

func NewMethodOverride(config *types.MethodOverrideConfig) types.Stage {
	field := defaultOverrideField
	if config != nil && config.Field != "" {
		field = config.Field
	}
	return &MethodOverride{field: field}
}

func (m *MethodOverride) Name() string { return StageMethodOverride }

func (m *MethodOverride) Handle(ctx *types.RequestCtx) error {
	if !ctx.IsPost() {
		return nil
	}

	method := string(ctx.Request.Header.Peek(methodOverrideHeader))
	if method == "" {
		if body, ok := ctx.Body.(map[string]interface{}); ok {
			method, _ = body[m.field].(string)
		}
	}
	if method == "" {
		method = string(ctx.QueryArgs().Peek(m.field))
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if !overridableMethods[method] {
		return nil
	}

	ctx.Locals["originalMethod"] = http.MethodPost
	ctx.Request.Header.SetMethod(method)
	return nil
}

package middleware

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

const parseErrorPrefix = "Unable to parse HTTP body"

// BodyParser decodes JSON, urlencoded and multipart bodies into ctx.Body.
// Other media types are exposed as raw bytes.
type BodyParser struct {
	config *types.BodyParserConfig
}

func NewBodyParser(config *types.BodyParserConfig) types.Stage {
	if config == nil {
		config = &types.BodyParserConfig{Enabled: true}
	}
	return &BodyParser{config: config}
}

func (p *BodyParser) Name() string { return StageBodyParser }

func (p *BodyParser) Handle(ctx *types.RequestCtx) error {
	if ctx.IsGet() || ctx.IsHead() {
		return nil
	}

	raw := ctx.PostBody()
	if len(raw) == 0 {
		return nil
	}

	if p.config.MaxBodySize > 0 && int64(len(raw)) > p.config.MaxBodySize {
		return &types.ParseError{
			Status:  http.StatusRequestEntityTooLarge,
			Message: "request entity too large",
		}
	}

	ctx.RawBody = append([]byte(nil), raw...)

	mediaType := mediaTypeOf(string(ctx.Request.Header.ContentType()))

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		value, err := utils.UnmarshalStrict(ctx.RawBody)
		if err != nil {
			return &types.ParseError{Cause: err}
		}
		ctx.Body = value

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(ctx.RawBody))
		if err != nil {
			return &types.ParseError{Cause: err}
		}
		ctx.Body = flattenValues(values)

	case mediaType == "multipart/form-data":
		form, err := ctx.MultipartForm()
		if err != nil {
			return &types.ParseError{Cause: err}
		}
		ctx.Body = flattenValues(form.Value)
		if len(form.File) > 0 {
			ctx.Locals["files"] = form.File
		}

	default:
		ctx.Body = ctx.RawBody
	}

	return nil
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = contentType[:i]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func flattenValues(values map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
			out[key] = ""
		case 1:
			out[key] = vals[0]
		default:
			list := make([]interface{}, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			out[key] = list
		}
	}
	return out
}

// ParseErrorHandler normalises body parse failures before they reach the
// retry stage or the terminal error handler.
type ParseErrorHandler struct {
	poweredBy string
	view      types.ErrorView
	metrics   types.MetricsManager
	count     bool
	logger    types.Logger
}

// NewParseErrorHandler builds the parse-error stage. When count is set the
// stage records unrecovered failures itself because no retry follows it.
func NewParseErrorHandler(poweredBy string, view types.ErrorView, metrics types.MetricsManager, count bool, logger types.Logger) *ParseErrorHandler {
	return &ParseErrorHandler{
		poweredBy: poweredBy,
		view:      view,
		metrics:   metrics,
		count:     count,
		logger:    logger,
	}
}

func (h *ParseErrorHandler) Name() string { return StageParseError }

func (h *ParseErrorHandler) HandleError(ctx *types.RequestCtx, err error) error {
	var perr *types.ParseError
	if !errors.As(err, &perr) {
		return err
	}

	if ctx.Locals == nil {
		ctx.Locals = make(map[string]interface{})
	}
	if h.poweredBy != "" {
		ctx.Response.Header.Set("X-Powered-By", h.poweredBy)
	}
	if h.view != nil && ctx.ErrorView == nil {
		ctx.ErrorView = h.view
	}

	if !strings.HasPrefix(perr.Message, parseErrorPrefix) {
		perr.Message = parseErrorPrefix + " :: " + perr.Error()
	}

	h.logger.Warn("Failed to parse request body",
		zap.ByteString("path", ctx.Path()),
		zap.ByteString("content_type", ctx.Request.Header.ContentType()),
		zap.Int("status", perr.StatusCode()),
		zap.Error(perr.Cause))

	if h.count {
		h.metrics.ObserveBodyParseFailure(false)
	}

	return perr
}

// JSONRetry gives a failed body one more chance as strict JSON.
type JSONRetry struct {
	metrics types.MetricsManager
	logger  types.Logger
}

func NewJSONRetry(metrics types.MetricsManager, logger types.Logger) *JSONRetry {
	return &JSONRetry{metrics: metrics, logger: logger}
}

func (r *JSONRetry) Name() string { return StageRetryJSON }

func (r *JSONRetry) HandleError(ctx *types.RequestCtx, err error) error {
	var perr *types.ParseError
	if !errors.As(err, &perr) || perr.Retried {
		return err
	}
	if perr.StatusCode() == http.StatusRequestEntityTooLarge {
		r.metrics.ObserveBodyParseFailure(false)
		return err
	}

	perr.Retried = true

	raw := ctx.RawBody
	if raw == nil {
		raw = ctx.PostBody()
	}

	value, jsonErr := utils.UnmarshalStrict(raw)
	if jsonErr != nil {
		r.metrics.ObserveBodyParseFailure(false)
		return perr
	}

	ctx.Body = value
	ctx.Locals["_bodyRetried"] = true
	r.metrics.ObserveBodyParseFailure(true)

	r.logger.Debug("Recovered request body as JSON", zap.ByteString("path", ctx.Path()))

	return nil
}

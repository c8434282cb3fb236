package middleware

import (
	"bytes"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

// DefaultErrorHandler writes the JSON error envelope with the status carried by err.
func DefaultErrorHandler(logger types.Logger) types.ErrorHandler {
	return func(ctx *types.RequestCtx, err error) {
		status := types.StatusOf(err)
		message := err.Error()

		if status >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", status),
				zap.Error(err))
		}

		if message == "" {
			message = http.StatusText(status)
		}

		utils.CreateErrorResponse(ctx.RequestCtx, status, message)
	}
}

func (m *Manager) buildErrorHandler(cfg *types.ServiceConfig) types.ErrorHandler {
	handler := m.options.ServerError
	if handler == nil {
		handler = DefaultErrorHandler(m.logger)
	}

	if cfg.HTTP.ErrorView == nil || !cfg.HTTP.ErrorView.Enabled {
		return handler
	}

	view := m.options.ErrorView
	if view == nil && cfg.Paths != nil && cfg.Paths.Views != "" {
		view = NewTemplateErrorView(cfg.Paths.Views, cfg.HTTP.ErrorView.Path, m.logger)
	}

	return withErrorView(view, handler, m.logger)
}

func withErrorView(view types.ErrorView, next types.ErrorHandler, logger types.Logger) types.ErrorHandler {
	return func(ctx *types.RequestCtx, err error) {
		v := ctx.ErrorView
		if v == nil {
			v = view
		}

		if v != nil {
			handled, renderErr := v.Render(ctx, types.StatusOf(err), err)
			if renderErr != nil {
				logger.Warn("Failed to render error view", zap.Error(renderErr))
			} else if handled {
				return
			}
		}

		next(ctx, err)
	}
}

// TemplateErrorView renders <dir>/<name>.html for clients that accept HTML.
type TemplateErrorView struct {
	dir    string
	name   string
	logger types.Logger

	once sync.Once
	tmpl *template.Template
	err  error
}

type errorViewData struct {
	Status  int
	Title   string
	Message string
	Path    string
	Locals  map[string]interface{}
}

func NewTemplateErrorView(dir, name string, logger types.Logger) *TemplateErrorView {
	if name == "" {
		name = "500"
	}
	return &TemplateErrorView{dir: dir, name: name, logger: logger}
}

func (v *TemplateErrorView) Render(ctx *types.RequestCtx, status int, err error) (bool, error) {
	if !strings.Contains(string(ctx.Request.Header.Peek("Accept")), "text/html") {
		return false, nil
	}

	tmpl, loadErr := v.load()
	if loadErr != nil {
		if os.IsNotExist(loadErr) {
			return false, nil
		}
		return false, loadErr
	}

	data := errorViewData{
		Status:  status,
		Title:   http.StatusText(status),
		Message: err.Error(),
		Path:    string(ctx.Path()),
		Locals:  ctx.Locals,
	}

	var buf bytes.Buffer
	if execErr := tmpl.Execute(&buf, data); execErr != nil {
		return false, execErr
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBody(buf.Bytes())
	ctx.MarkResponded()

	return true, nil
}

func (v *TemplateErrorView) load() (*template.Template, error) {
	v.once.Do(func() {
		file := filepath.Join(v.dir, v.name+".html")
		if _, statErr := os.Stat(file); statErr != nil {
			v.err = statErr
			return
		}
		v.tmpl, v.err = template.ParseFiles(file)
		if v.err == nil {
			v.logger.Debug("Error view loaded", zap.String("file", file))
		}
	})
	return v.tmpl, v.err
}

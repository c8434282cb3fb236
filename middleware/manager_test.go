package middleware

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/config"
	"github.com/saiset-co/sai-web/logger"
	"github.com/saiset-co/sai-web/metrics"
	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func testConfig(t *testing.T, mutate func(cfg *types.ServiceConfig)) types.ConfigManager {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Session.Secret = "keyboard cat"
	cfg.Paths.Public = ""
	cfg.HTTP.Logging.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	cm, err := config.NewStaticManager(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cm
}

func echoRouter(fn func(ctx *types.RequestCtx) error) types.Stage {
	return types.NewStage(StageRouter, fn)
}

func newPipeline(t *testing.T, cfg types.ConfigManager, options Options) *Manager {
	t.Helper()

	m := NewManager(cfg, testLogger(), metrics.NewNoopMetrics(), options)
	if err := m.Configure(); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return m
}

func serve(m *Manager, method, uri string, prepare func(req *fasthttp.Request)) *fasthttp.RequestCtx {
	fctx := &fasthttp.RequestCtx{}
	fctx.Request.Header.SetMethod(method)
	fctx.Request.SetRequestURI(uri)
	if prepare != nil {
		prepare(&fctx.Request)
	}

	m.Execute(types.NewRequestCtx(context.Background(), fctx))
	return fctx
}

func decodeEnvelope(t *testing.T, fctx *fasthttp.RequestCtx) utils.ErrorEnvelope {
	t.Helper()

	var envelope utils.ErrorEnvelope
	if err := utils.Unmarshal(fctx.Response.Body(), &envelope); err != nil {
		t.Fatalf("decode %q: %v", fctx.Response.Body(), err)
	}
	if len(envelope.Errors) == 0 {
		t.Fatalf("envelope has no errors: %q", fctx.Response.Body())
	}
	return envelope
}

func TestConfigureBuildsStagesInOrder(t *testing.T) {
	store := memoryStore(t)
	cfg := testConfig(t, func(cfg *types.ServiceConfig) {
		cfg.HTTP.Logging.Enabled = true
		cfg.Controllers.CSRF = true
		cfg.Paths.Public = t.TempDir()
	})

	m := newPipeline(t, cfg, Options{
		SessionStore: store,
		Router:       echoRouter(func(*types.RequestCtx) error { return nil }),
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("audit", func(*types.RequestCtx) error { return nil })
		},
	})

	want := []string{
		StageLogging, StageMetrics, StageCookieParser, StageSession,
		StageBodyParser, StageParseError, StageRetryJSON,
		StageCSRF, StageLocals, StageMethodOverride,
		"audit", StagePoweredBy, StageStatic, StageRouter,
	}
	if got := m.Stages(); !reflect.DeepEqual(got, want) {
		t.Errorf("stages =\n%v\nwant\n%v", got, want)
	}
}

func TestConfigureOmitsDisabledStages(t *testing.T) {
	cfg := testConfig(t, func(cfg *types.ServiceConfig) {
		cfg.HTTP.BodyParser.Enabled = false
		cfg.HTTP.CookieParser.Enabled = false
		cfg.HTTP.MethodOverride.Enabled = false
		cfg.HTTP.PoweredBy = ""
	})

	m := newPipeline(t, cfg, Options{})

	want := []string{StageMetrics, StageLocals}
	if got := m.Stages(); !reflect.DeepEqual(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
}

func TestConfigureErrors(t *testing.T) {
	t.Run("reconfigure", func(t *testing.T) {
		m := newPipeline(t, testConfig(t, nil), Options{})
		if err := m.Configure(); !errors.Is(err, types.ErrPipelineFinalized) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("register after finalize", func(t *testing.T) {
		m := newPipeline(t, testConfig(t, nil), Options{})
		err := m.Register(types.NewStage("late", func(*types.RequestCtx) error { return nil }))
		if !errors.Is(err, types.ErrPipelineFinalized) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("duplicate custom stage", func(t *testing.T) {
		m := NewManager(testConfig(t, nil), testLogger(), metrics.NewNoopMetrics(), Options{
			CustomMiddleware: func(b *Builder) {
				noop := func(*types.RequestCtx) error { return nil }
				b.UseFunc("audit", noop).UseFunc("audit", noop)
			},
		})
		if err := m.Configure(); !errors.Is(err, types.ErrStageDuplicate) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("custom name collides with builtin", func(t *testing.T) {
		m := NewManager(testConfig(t, nil), testLogger(), metrics.NewNoopMetrics(), Options{
			CustomMiddleware: func(b *Builder) {
				b.UseFunc(StagePoweredBy, func(*types.RequestCtx) error { return nil })
			},
		})
		if err := m.Configure(); !errors.Is(err, types.ErrStageDuplicate) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("cookie parser without secret", func(t *testing.T) {
		cfg := testConfig(t, func(cfg *types.ServiceConfig) { cfg.Session.Secret = "" })
		m := NewManager(cfg, testLogger(), metrics.NewNoopMetrics(), Options{})
		if err := m.Configure(); !errors.Is(err, types.ErrSecretEmpty) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestExecuteBeforeConfigure(t *testing.T) {
	m := NewManager(testConfig(t, nil), testLogger(), metrics.NewNoopMetrics(), Options{})

	fctx := serve(m, "GET", "/", nil)
	if fctx.Response.StatusCode() != http.StatusInternalServerError {
		t.Errorf("status = %d", fctx.Response.StatusCode())
	}
}

func TestExecuteErrorPathSkipsRegularStages(t *testing.T) {
	var trace []string
	record := func(name string, err error) func(*types.RequestCtx) error {
		return func(*types.RequestCtx) error {
			trace = append(trace, name)
			return err
		}
	}

	m := newPipeline(t, testConfig(t, nil), Options{
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("fail", record("fail", errors.New("first")))
			b.UseFunc("skipped", record("skipped", nil))
			b.UseError("recover", func(ctx *types.RequestCtx, err error) error {
				trace = append(trace, "recover:"+err.Error())
				return nil
			})
			b.UseFunc("after", record("after", nil))
		},
		Router: echoRouter(func(ctx *types.RequestCtx) error {
			trace = append(trace, "router")
			ctx.SetBodyString("ok")
			return nil
		}),
	})

	fctx := serve(m, "GET", "/", nil)

	want := []string{"fail", "recover:first", "after", "router"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
	if string(fctx.Response.Body()) != "ok" {
		t.Errorf("body = %q", fctx.Response.Body())
	}
}

func TestExecuteUnhandledErrorUsesEnvelope(t *testing.T) {
	m := newPipeline(t, testConfig(t, nil), Options{
		Router: echoRouter(func(*types.RequestCtx) error {
			return types.NewHTTPError(http.StatusNotFound, "Not Found")
		}),
	})

	fctx := serve(m, "GET", "/missing", nil)

	if fctx.Response.StatusCode() != http.StatusNotFound {
		t.Fatalf("status = %d", fctx.Response.StatusCode())
	}
	envelope := decodeEnvelope(t, fctx)
	if envelope.Status != http.StatusNotFound || envelope.Errors[0].Message != "Not Found" {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	m := newPipeline(t, testConfig(t, nil), Options{
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("explode", func(*types.RequestCtx) error { panic("boom") })
		},
		Router: echoRouter(func(*types.RequestCtx) error {
			t.Error("router ran after panic")
			return nil
		}),
	})

	fctx := serve(m, "GET", "/", nil)

	if fctx.Response.StatusCode() != http.StatusInternalServerError {
		t.Fatalf("status = %d", fctx.Response.StatusCode())
	}
	if msg := decodeEnvelope(t, fctx).Errors[0].Message; msg != "Internal Server Error" {
		t.Errorf("message = %q", msg)
	}
}

func TestExecuteStopsOnAbort(t *testing.T) {
	m := newPipeline(t, testConfig(t, nil), Options{
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("abort", func(ctx *types.RequestCtx) error {
				ctx.Cancel()
				return errors.New("gone")
			})
		},
		Router: echoRouter(func(*types.RequestCtx) error {
			t.Error("router ran after abort")
			return nil
		}),
	})

	fctx := serve(m, "GET", "/", nil)

	if len(fctx.Response.Body()) != 0 {
		t.Errorf("aborted request wrote %q", fctx.Response.Body())
	}
}

func TestExecuteStopsAfterResponse(t *testing.T) {
	m := newPipeline(t, testConfig(t, nil), Options{
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("short", func(ctx *types.RequestCtx) error {
				return ctx.JSON(http.StatusAccepted, map[string]string{"ok": "yes"})
			})
		},
		Router: echoRouter(func(*types.RequestCtx) error {
			t.Error("router ran after response")
			return nil
		}),
	})

	fctx := serve(m, "GET", "/", nil)
	if fctx.Response.StatusCode() != http.StatusAccepted {
		t.Errorf("status = %d", fctx.Response.StatusCode())
	}
}

func TestExecuteContinuesAfterPresetStatus(t *testing.T) {
	m := newPipeline(t, testConfig(t, nil), Options{
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("created", func(ctx *types.RequestCtx) error {
				ctx.SetStatusCode(http.StatusCreated)
				return nil
			})
		},
		Router: echoRouter(func(ctx *types.RequestCtx) error {
			ctx.SetBodyString("made")
			return nil
		}),
	})

	fctx := serve(m, "POST", "/", nil)
	if fctx.Response.StatusCode() != http.StatusCreated || string(fctx.Response.Body()) != "made" {
		t.Errorf("status = %d, body = %q", fctx.Response.StatusCode(), fctx.Response.Body())
	}
}

func TestPoweredByAndCustomServerError(t *testing.T) {
	var handled error
	m := newPipeline(t, testConfig(t, func(cfg *types.ServiceConfig) { cfg.HTTP.PoweredBy = "Tests" }), Options{
		ServerError: func(ctx *types.RequestCtx, err error) {
			handled = err
			ctx.SetStatusCode(http.StatusServiceUnavailable)
		},
		Router: echoRouter(func(*types.RequestCtx) error { return errors.New("down") }),
	})

	fctx := serve(m, "GET", "/", nil)

	if got := string(fctx.Response.Header.Peek("X-Powered-By")); got != "Tests" {
		t.Errorf("X-Powered-By = %q", got)
	}
	if handled == nil || handled.Error() != "down" {
		t.Errorf("handled = %v", handled)
	}
	if fctx.Response.StatusCode() != http.StatusServiceUnavailable {
		t.Errorf("status = %d", fctx.Response.StatusCode())
	}
}

type fakeView struct {
	status int
}

func (v *fakeView) Render(ctx *types.RequestCtx, status int, _ error) (bool, error) {
	if status != v.status {
		return false, nil
	}
	ctx.SetStatusCode(status)
	ctx.SetBodyString("custom page")
	return true, nil
}

func TestErrorViewRendersBeforeEnvelope(t *testing.T) {
	cfg := testConfig(t, func(cfg *types.ServiceConfig) { cfg.HTTP.ErrorView.Enabled = true })

	status := http.StatusNotFound
	m := newPipeline(t, cfg, Options{
		ErrorView: &fakeView{status: http.StatusNotFound},
		Router: echoRouter(func(*types.RequestCtx) error {
			return types.NewHTTPError(status, http.StatusText(status))
		}),
	})

	fctx := serve(m, "GET", "/", nil)
	if string(fctx.Response.Body()) != "custom page" {
		t.Errorf("body = %q", fctx.Response.Body())
	}

	status = http.StatusConflict
	fctx = serve(m, "GET", "/", nil)
	if decodeEnvelope(t, fctx).Status != http.StatusConflict {
		t.Errorf("view should fall back to envelope, got %q", fctx.Response.Body())
	}
}

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-web/session"
	"github.com/saiset-co/sai-web/types"
)

func memoryStore(t *testing.T) *session.MemoryStore {
	t.Helper()

	store, err := session.NewMemoryStore(context.Background(), testLogger(), &types.SessionConfig{})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	return store
}

func responseCookie(t *testing.T, fctx *fasthttp.RequestCtx, name string) *fasthttp.Cookie {
	t.Helper()

	raw := fctx.Response.Header.PeekCookie(name)
	if len(raw) == 0 {
		return nil
	}

	cookie := &fasthttp.Cookie{}
	if err := cookie.ParseBytes(raw); err != nil {
		t.Fatalf("parse cookie %q: %v", raw, err)
	}
	return cookie
}

func withCookie(name, value string) func(req *fasthttp.Request) {
	return func(req *fasthttp.Request) {
		req.Header.SetCookie(name, value)
	}
}

func TestCookieSigner(t *testing.T) {
	signer, err := NewCookieSigner("keyboard cat")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	signed := signer.Sign("abc.def")
	if !strings.HasPrefix(signed, "s:abc.def.") {
		t.Fatalf("signed = %q", signed)
	}

	if value, ok := signer.Unsign(signed); !ok || value != "abc.def" {
		t.Errorf("unsign = %q, %v", value, ok)
	}

	other, _ := NewCookieSigner("another secret")
	tests := []string{
		"abc.def",
		"s:abc",
		signed[:len(signed)-1] + "x",
		other.Sign("abc.def"),
	}
	for _, raw := range tests {
		if _, ok := signer.Unsign(raw); ok {
			t.Errorf("Unsign(%q) accepted", raw)
		}
	}

	if _, err := NewCookieSigner(""); err != types.ErrSecretEmpty {
		t.Errorf("empty secret err = %v", err)
	}
}

func TestCookieParserSplitsSignedCookies(t *testing.T) {
	stage, err := NewCookieParser("keyboard cat")
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	signer, _ := NewCookieSigner("keyboard cat")

	ctx := types.NewRequestCtx(context.Background(), &fasthttp.RequestCtx{})
	ctx.Request.Header.SetCookie("plain", "hello%20world")
	ctx.Request.Header.SetCookie("good", signer.Sign("value"))
	ctx.Request.Header.SetCookie("bad", "s:value.forged")

	if err := stage.Handle(ctx); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if ctx.Cookies["plain"] != "hello world" {
		t.Errorf("plain = %q", ctx.Cookies["plain"])
	}
	if ctx.SignedCookies["good"] != "value" {
		t.Errorf("good = %q", ctx.SignedCookies["good"])
	}
	if _, ok := ctx.SignedCookies["bad"]; ok {
		t.Error("forged cookie accepted")
	}
	if _, ok := ctx.Cookies["bad"]; ok {
		t.Error("forged cookie leaked into plain cookies")
	}
}

func counterPipeline(t *testing.T, store types.SessionStore) *Manager {
	return newPipeline(t, testConfig(t, nil), Options{
		SessionStore: store,
		Router: echoRouter(func(ctx *types.RequestCtx) error {
			count := 0
			if v, ok := ctx.Session.Get("count"); ok {
				count, _ = v.(int)
				if f, ok := v.(float64); ok {
					count = int(f)
				}
			}
			count++
			ctx.Session.Set("count", count)
			ctx.SetBodyString(strconv.Itoa(count))
			return nil
		}),
	})
}

func TestSessionPersistsAcrossRequests(t *testing.T) {
	store := memoryStore(t)
	m := counterPipeline(t, store)

	first := serve(m, "GET", "/", nil)
	cookie := responseCookie(t, first, "sai.sid")
	if cookie == nil {
		t.Fatal("no session cookie set")
	}
	if !cookie.HTTPOnly() || string(cookie.Path()) != "/" || cookie.MaxAge() != 24*60*60 {
		t.Errorf("cookie attributes = %s", cookie.String())
	}
	if store.Len() != 1 {
		t.Errorf("store len = %d", store.Len())
	}

	second := serve(m, "GET", "/", withCookie("sai.sid", string(cookie.Value())))
	if string(second.Response.Body()) != "2" {
		t.Errorf("second body = %q", second.Response.Body())
	}
}

func TestSessionIgnoresInvalidCookies(t *testing.T) {
	store := memoryStore(t)
	m := counterPipeline(t, store)

	first := serve(m, "GET", "/", nil)
	value := string(responseCookie(t, first, "sai.sid").Value())

	tests := map[string]string{
		"tampered": value[:len(value)-2] + "zz",
		"unsigned": strings.TrimPrefix(strings.SplitN(value, ".", 2)[0], "s:"),
		"unknown":  mustSign(t, "not-a-session"),
	}

	for name, cookie := range tests {
		t.Run(name, func(t *testing.T) {
			fctx := serve(m, "GET", "/", withCookie("sai.sid", cookie))
			if fctx.Response.StatusCode() != http.StatusOK {
				t.Fatalf("status = %d", fctx.Response.StatusCode())
			}
			if string(fctx.Response.Body()) != "1" {
				t.Errorf("body = %q, want a fresh session", fctx.Response.Body())
			}
		})
	}
}

func mustSign(t *testing.T, value string) string {
	t.Helper()
	signer, err := NewCookieSigner("keyboard cat")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer.Sign(value)
}

func TestSessionSharedAcrossStages(t *testing.T) {
	var seen *types.Session
	m := newPipeline(t, testConfig(t, nil), Options{
		SessionStore: memoryStore(t),
		CustomMiddleware: func(b *Builder) {
			b.UseFunc("remember", func(ctx *types.RequestCtx) error {
				seen = ctx.Session
				return nil
			})
		},
		Router: echoRouter(func(ctx *types.RequestCtx) error {
			if ctx.Session != seen {
				t.Error("router saw a different session object")
			}
			ctx.SetBodyString("ok")
			return nil
		}),
	})

	fctx := serve(m, "GET", "/", nil)
	if seen == nil {
		t.Fatal("no session attached")
	}
	if responseCookie(t, fctx, "sai.sid") != nil {
		t.Error("clean session should not be persisted")
	}
}

func csrfPipeline(t *testing.T, store types.SessionStore) *Manager {
	cfg := testConfig(t, func(cfg *types.ServiceConfig) { cfg.Controllers.CSRF = true })
	return newPipeline(t, cfg, Options{
		SessionStore: store,
		Router: echoRouter(func(ctx *types.RequestCtx) error {
			ctx.SetBodyString(ctx.CSRFToken())
			return nil
		}),
	})
}

func TestCSRFTokenLifecycle(t *testing.T) {
	m := csrfPipeline(t, memoryStore(t))

	first := serve(m, "GET", "/csrfToken", nil)
	token := string(first.Response.Body())
	if len(token) < 40 {
		t.Fatalf("token = %q", token)
	}
	sid := string(responseCookie(t, first, "sai.sid").Value())

	again := serve(m, "GET", "/", withCookie("sai.sid", sid))
	if string(again.Response.Body()) != token {
		t.Errorf("token changed between requests: %q", again.Response.Body())
	}

	tests := []struct {
		name    string
		prepare func(req *fasthttp.Request)
		status  int
	}{
		{"header", func(req *fasthttp.Request) {
			req.Header.SetCookie("sai.sid", sid)
			req.Header.Set("X-CSRF-Token", token)
		}, http.StatusOK},
		{"body field", func(req *fasthttp.Request) {
			req.Header.SetCookie("sai.sid", sid)
			req.Header.SetContentType("application/x-www-form-urlencoded")
			req.SetBodyString("_csrf=" + token)
		}, http.StatusOK},
		{"missing", func(req *fasthttp.Request) {
			req.Header.SetCookie("sai.sid", sid)
		}, http.StatusForbidden},
		{"mismatch", func(req *fasthttp.Request) {
			req.Header.SetCookie("sai.sid", sid)
			req.Header.Set("X-CSRF-Token", token+"x")
		}, http.StatusForbidden},
		{"token from another session", func(req *fasthttp.Request) {
			req.Header.Set("X-CSRF-Token", token)
		}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fctx := serve(m, "POST", "/", tt.prepare)
			if fctx.Response.StatusCode() != tt.status {
				t.Errorf("status = %d, want %d (%q)", fctx.Response.StatusCode(), tt.status, fctx.Response.Body())
			}
		})
	}
}

func TestCSRFWithoutSessionStore(t *testing.T) {
	m := csrfPipeline(t, nil)

	fctx := serve(m, "GET", "/", nil)
	if fctx.Response.StatusCode() != http.StatusInternalServerError {
		t.Errorf("status = %d", fctx.Response.StatusCode())
	}
}

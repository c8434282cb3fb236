package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/logger"
	"github.com/saiset-co/sai-web/types"
)

func newTable() *RouteTable {
	return NewRouteTable(logger.NewZapWrapper(zap.NewNop()))
}

func named(name string) types.Handler {
	return func(ctx *types.RequestCtx) error {
		ctx.SetBodyString(name)
		return nil
	}
}

func TestBindDefaultsVerbAndCopiesDescriptor(t *testing.T) {
	table := newTable()

	route := types.Route{Path: "/test", Target: named("index"), Meta: map[string]string{"k": "v"}}
	if err := table.Bind(route); err != nil {
		t.Fatalf("bind: %v", err)
	}

	route.Meta["k"] = "mutated"

	routes := table.Routes()
	if len(routes) != 1 {
		t.Fatalf("routes = %d, want 1", len(routes))
	}
	if routes[0].Verb != types.VerbAll {
		t.Errorf("verb = %q, want all", routes[0].Verb)
	}
	if routes[0].Meta["k"] != "v" {
		t.Errorf("meta shares storage with caller: %q", routes[0].Meta["k"])
	}
}

func TestBindRejectsMalformedRoutes(t *testing.T) {
	table := newTable()
	_ = table.Bind(types.Route{Verb: "get", Path: "/ok", Target: named("ok")})

	cases := []struct {
		name  string
		route types.Route
		want  error
	}{
		{"empty path", types.Route{Verb: "get", Target: named("x")}, types.ErrRouteInvalidPath},
		{"relative path", types.Route{Verb: "get", Path: "x", Target: named("x")}, types.ErrRouteInvalidPath},
		{"unknown verb", types.Route{Verb: "fetch", Path: "/x", Target: named("x")}, types.ErrRouteInvalidVerb},
		{"nil target", types.Route{Verb: "get", Path: "/x"}, types.ErrRouteTargetMissing},
		{"inner splat", types.Route{Verb: "get", Path: "/a/*/b", Target: named("x")}, types.ErrRouteInvalidPath},
		{"empty param", types.Route{Verb: "get", Path: "/a/:", Target: named("x")}, types.ErrRouteInvalidPath},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := table.Bind(tc.route)
			var bindErr *types.RouteBindingError
			if !errors.As(err, &bindErr) || !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want RouteBindingError wrapping %v", err, tc.want)
			}
		})
	}

	if table.Len() != 1 {
		t.Errorf("table corrupted by rejected binds: %d routes", table.Len())
	}
}

func TestUnbindThenBindLeavesSingleRoute(t *testing.T) {
	table := newTable()

	_ = table.Bind(types.Route{Verb: "get", Path: "/a", Target: named("a")})
	_ = table.Bind(types.Route{Verb: "get", Path: "/b", Target: named("b1")})
	_ = table.Bind(types.Route{Verb: "get", Path: "/c", Target: named("c")})

	table.Unbind("/b", "GET")
	_ = table.Bind(types.Route{Verb: "get", Path: "/b", Target: named("b2")})

	var count int
	for _, r := range table.Routes() {
		if r.Path == "/b" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("found %d entries for /b, want 1", count)
	}

	routes := table.Routes()
	if routes[0].Path != "/a" || routes[1].Path != "/c" || routes[2].Path != "/b" {
		t.Errorf("order = %v", []string{routes[0].Path, routes[1].Path, routes[2].Path})
	}
}

func TestUnbindIsIdempotentAndVerbScoped(t *testing.T) {
	table := newTable()

	_ = table.Bind(types.Route{Verb: "get", Path: "/x", Target: named("get")})
	_ = table.Bind(types.Route{Verb: "post", Path: "/x", Target: named("post")})

	table.Unbind("/x", "post")
	table.Unbind("/x", "post")
	table.Unbind("/missing", "get")

	routes := table.Routes()
	if len(routes) != 1 || routes[0].Verb != "get" {
		t.Fatalf("routes = %+v", routes)
	}
}

func TestBindSameVerbAndPathReplacesInPlace(t *testing.T) {
	table := newTable()

	_ = table.Bind(types.Route{Verb: "get", Path: "/one", Target: named("first")})
	_ = table.Bind(types.Route{Verb: "get", Path: "/two", Target: named("two")})
	_ = table.Bind(types.Route{Verb: "GET", Path: "/one", Target: named("second")})

	if table.Len() != 2 {
		t.Fatalf("len = %d, want 2", table.Len())
	}

	ctx := newRequest("GET", "/one")
	if err := table.Handle(ctx); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if body := string(ctx.Response.Body()); body != "second" {
		t.Errorf("body = %q, want second", body)
	}
	if table.Routes()[0].Path != "/one" {
		t.Error("replacement did not keep position")
	}
}

func TestMatchPrecedenceAndParams(t *testing.T) {
	table := newTable()

	_ = table.Bind(types.Route{Verb: "get", Path: "/users/me", Target: named("me")})
	_ = table.Bind(types.Route{Verb: "get", Path: "/users/:id", Target: named("user")})
	_ = table.Bind(types.Route{Verb: "all", Path: "/items/{sku}/detail", Target: named("item")})
	_ = table.Bind(types.Route{Verb: "get", Path: "/files/*", Target: named("files")})

	cases := []struct {
		method, path string
		target       string
		params       map[string]string
	}{
		{"GET", "/users/me", "me", map[string]string{}},
		{"GET", "/users/42", "user", map[string]string{"id": "42"}},
		{"HEAD", "/users/42", "user", map[string]string{"id": "42"}},
		{"DELETE", "/items/abc/detail", "item", map[string]string{"sku": "abc"}},
		{"GET", "/files/a/b.txt", "files", map[string]string{"*": "a/b.txt"}},
	}

	for _, tc := range cases {
		route, params, ok := table.Match(tc.method, tc.path)
		if !ok {
			t.Errorf("%s %s: no match", tc.method, tc.path)
			continue
		}

		ctx := newRequest(tc.method, tc.path)
		_ = route.Target(ctx)
		if got := string(ctx.Response.Body()); got != tc.target {
			t.Errorf("%s %s: target = %q, want %q", tc.method, tc.path, got, tc.target)
		}
		if len(params) != len(tc.params) {
			t.Errorf("%s %s: params = %v, want %v", tc.method, tc.path, params, tc.params)
		}
		for k, v := range tc.params {
			if params[k] != v {
				t.Errorf("%s %s: param %s = %q, want %q", tc.method, tc.path, k, params[k], v)
			}
		}
	}

	if _, _, ok := table.Match("POST", "/users/42"); ok {
		t.Error("POST matched a GET route")
	}
}

func TestHandleNotFoundAndParams(t *testing.T) {
	table := newTable()
	_ = table.Bind(types.Route{
		Verb:       "get",
		Path:       "/test/:id",
		Controller: "test",
		Action:     "find",
		Target: func(ctx *types.RequestCtx) error {
			ctx.SetBodyString(ctx.Param("id"))
			return nil
		},
	})

	ctx := newRequest("GET", "/test/7")
	if err := table.Handle(ctx); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if string(ctx.Response.Body()) != "7" {
		t.Errorf("body = %q", ctx.Response.Body())
	}
	if ctx.Locals["controller"] != "test" || ctx.Locals["action"] != "find" {
		t.Errorf("locals = %v", ctx.Locals)
	}

	err := table.Handle(newRequest("GET", "/nope"))
	if types.StatusOf(err) != http.StatusNotFound {
		t.Errorf("status = %d, want 404", types.StatusOf(err))
	}
}

func TestConcurrentBindAndMatch(t *testing.T) {
	table := newTable()
	_ = table.Bind(types.Route{Verb: "get", Path: "/stable", Target: named("stable")})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = table.Bind(types.Route{Verb: "get", Path: "/flip", Target: named("flip")})
			table.Unbind("/flip", "get")
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, _, ok := table.Match("GET", "/stable"); !ok {
				t.Error("stable route disappeared during swap")
				return
			}
		}
	}()

	wg.Wait()
}

func TestGroupBuilderBindsPrefixedRoutesWithMeta(t *testing.T) {
	table := newTable()

	api := table.Group("/api").WithMeta("scope", "api")
	if err := api.GET("/ping", named("pong")).WithController("health", "ping").Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := api.Group("/v2").POST("/items", named("create")).Finalize(); err != nil {
		t.Fatalf("finalize nested: %v", err)
	}

	route, _, ok := table.Match("GET", "/api/ping")
	if !ok {
		t.Fatal("group route not bound")
	}
	if route.Meta["scope"] != "api" || route.Controller != "health" {
		t.Errorf("route = %+v", route)
	}
	if _, _, ok := table.Match("POST", "/api/v2/items"); !ok {
		t.Error("nested group route not bound")
	}
}

func newRequest(method, path string) *types.RequestCtx {
	fctx := &fasthttp.RequestCtx{}
	fctx.Request.Header.SetMethod(method)
	fctx.Request.SetRequestURI(path)
	return types.NewRequestCtx(context.Background(), fctx)
}

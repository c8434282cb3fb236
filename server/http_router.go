package server

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

type routeSnapshot struct {
	routes []*compiledRoute
}

// RouteTable is the ordered list of bound routes. Readers work on an
// immutable snapshot; Bind and Unbind build a new one and swap it in.
type RouteTable struct {
	logger  types.Logger
	mu      sync.Mutex
	current atomic.Pointer[routeSnapshot]
}

func NewRouteTable(logger types.Logger) *RouteTable {
	table := &RouteTable{logger: logger}
	table.current.Store(&routeSnapshot{})
	return table
}

// Bind adds route to the table. A route with the same verb and path
// replaces the existing entry in place.
func (t *RouteTable) Bind(route types.Route) error {
	compiled, err := compileRoute(route)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.current.Load().routes
	next := make([]*compiledRoute, 0, len(old)+1)
	replaced := false

	for _, entry := range old {
		if !replaced && entry.route.Key() == compiled.route.Key() {
			next = append(next, compiled)
			replaced = true
			continue
		}
		next = append(next, entry)
	}
	if !replaced {
		next = append(next, compiled)
	}

	t.current.Store(&routeSnapshot{routes: next})

	t.logger.Debug("Route bound",
		zap.String("verb", compiled.route.Verb),
		zap.String("path", compiled.route.Path),
		zap.Bool("replaced", replaced))

	return nil
}

// Unbind removes every entry bound to method and path. Unknown routes are ignored.
func (t *RouteTable) Unbind(path, method string) {
	verb := strings.ToLower(strings.TrimSpace(method))
	if verb == "" {
		verb = types.VerbAll
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.current.Load().routes
	next := make([]*compiledRoute, 0, len(old))

	for _, entry := range old {
		if entry.route.Verb == verb && entry.route.Path == path {
			continue
		}
		next = append(next, entry)
	}

	if len(next) == len(old) {
		return
	}

	t.current.Store(&routeSnapshot{routes: next})

	t.logger.Debug("Route unbound", zap.String("verb", verb), zap.String("path", path))
}

// Match returns the first route, in registration order, accepting method and path.
func (t *RouteTable) Match(method, path string) (*types.Route, map[string]string, bool) {
	verb := strings.ToLower(method)
	parts := utils.SplitPath(path)

	for _, entry := range t.current.Load().routes {
		if !entry.acceptsMethod(verb) {
			continue
		}
		if params, ok := entry.match(parts); ok {
			route := entry.route.Clone()
			return &route, params, true
		}
	}

	return nil, nil, false
}

func (t *RouteTable) Routes() []types.Route {
	snapshot := t.current.Load()
	routes := make([]types.Route, 0, len(snapshot.routes))
	for _, entry := range snapshot.routes {
		routes = append(routes, entry.route.Clone())
	}
	return routes
}

func (t *RouteTable) Len() int {
	return len(t.current.Load().routes)
}

func (t *RouteTable) Route(verb, path string, handler types.Handler) *RouteBuilder {
	return &RouteBuilder{
		table: t,
		route: types.Route{Verb: verb, Path: path, Target: handler},
	}
}

func (t *RouteTable) Group(prefix string) *GroupBuilder {
	return &GroupBuilder{
		table:  t,
		prefix: prefix,
		meta:   make(map[string]string),
	}
}

func (t *RouteTable) Name() string { return "router" }

// Handle dispatches the request to the matching route target.
func (t *RouteTable) Handle(ctx *types.RequestCtx) error {
	route, params, ok := t.Match(utils.BytesToString(ctx.Method()), string(ctx.Path()))
	if !ok {
		return types.NewHTTPError(http.StatusNotFound, http.StatusText(http.StatusNotFound))
	}

	for name, value := range params {
		ctx.Params[name] = value
	}
	if route.Controller != "" {
		ctx.Locals["controller"] = route.Controller
		ctx.Locals["action"] = route.Action
	}

	return route.Target(ctx)
}

package server

import (
	"strings"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

var knownVerbs = map[string]bool{
	types.VerbAll: true,
	"get":         true,
	"post":        true,
	"put":         true,
	"delete":      true,
	"patch":       true,
	"head":        true,
	"options":     true,
	"trace":       true,
}

type segment struct {
	value string
	param bool
}

// compiledRoute is an immutable table entry: the bound route plus its parsed pattern.
type compiledRoute struct {
	route    types.Route
	segments []segment
	splat    bool
}

func compileRoute(route types.Route) (*compiledRoute, error) {
	if route.Path == "" || route.Path[0] != '/' {
		return nil, &types.RouteBindingError{Verb: route.Verb, Path: route.Path, Err: types.ErrRouteInvalidPath}
	}

	verb := strings.ToLower(strings.TrimSpace(route.Verb))
	if verb == "" {
		verb = types.VerbAll
	}
	if !knownVerbs[verb] {
		return nil, &types.RouteBindingError{Verb: route.Verb, Path: route.Path, Err: types.ErrRouteInvalidVerb}
	}

	if route.Target == nil {
		return nil, &types.RouteBindingError{Verb: route.Verb, Path: route.Path, Err: types.ErrRouteTargetMissing}
	}

	parts := utils.SplitPath(route.Path)
	compiled := &compiledRoute{segments: make([]segment, 0, len(parts))}

	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return nil, &types.RouteBindingError{Verb: route.Verb, Path: route.Path, Err: types.ErrRouteInvalidPath}
			}
			compiled.splat = true
		case part[0] == ':':
			if len(part) == 1 {
				return nil, &types.RouteBindingError{Verb: route.Verb, Path: route.Path, Err: types.ErrRouteInvalidPath}
			}
			compiled.segments = append(compiled.segments, segment{value: part[1:], param: true})
		case part[0] == '{':
			if len(part) < 3 || part[len(part)-1] != '}' {
				return nil, &types.RouteBindingError{Verb: route.Verb, Path: route.Path, Err: types.ErrRouteInvalidPath}
			}
			compiled.segments = append(compiled.segments, segment{value: part[1 : len(part)-1], param: true})
		default:
			compiled.segments = append(compiled.segments, segment{value: part})
		}
	}

	compiled.route = route.Clone()
	compiled.route.Verb = verb

	return compiled, nil
}

func (c *compiledRoute) acceptsMethod(method string) bool {
	switch c.route.Verb {
	case types.VerbAll, method:
		return true
	case "get":
		return method == "head"
	}
	return false
}

func (c *compiledRoute) match(parts []string) (map[string]string, bool) {
	if len(parts) < len(c.segments) || (!c.splat && len(parts) != len(c.segments)) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range c.segments {
		if seg.param {
			if params == nil {
				params = make(map[string]string, len(c.segments))
			}
			params[seg.value] = parts[i]
			continue
		}
		if seg.value != parts[i] {
			return nil, false
		}
	}

	if c.splat {
		if params == nil {
			params = make(map[string]string, 1)
		}
		params["*"] = strings.Join(parts[len(c.segments):], "/")
	}

	if params == nil {
		params = map[string]string{}
	}
	return params, true
}

// RouteBuilder collects metadata for a route before it is bound.
type RouteBuilder struct {
	table *RouteTable
	route types.Route
}

func (rb *RouteBuilder) WithMeta(key, value string) *RouteBuilder {
	if rb.route.Meta == nil {
		rb.route.Meta = make(map[string]string)
	}
	rb.route.Meta[key] = value
	return rb
}

func (rb *RouteBuilder) WithController(controller, action string) *RouteBuilder {
	rb.route.Controller = controller
	rb.route.Action = action
	return rb
}

func (rb *RouteBuilder) Finalize() error {
	return rb.table.Bind(rb.route)
}

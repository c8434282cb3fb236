package types

import "strings"

const VerbAll = "all"

type HTTPServer interface {
	LifecycleManager
}

// Handler is a route target.
type Handler func(ctx *RequestCtx) error

// Action is a controller action; its result becomes the response body.
type Action func(ctx *RequestCtx) (interface{}, error)

// Policy runs before an action. A nil return lets the chain continue.
type Policy func(ctx *RequestCtx) error

// Route is identified by its (Verb, Path) pair.
type Route struct {
	Verb       string
	Path       string
	Target     Handler
	Controller string
	Action     string
	Meta       map[string]string
}

func (r Route) Clone() Route {
	clone := r
	if r.Meta != nil {
		clone.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			clone.Meta[k] = v
		}
	}
	return clone
}

func (r Route) Key() string {
	return strings.ToLower(r.Verb) + ":" + r.Path
}

type RouteTable interface {
	Bind(route Route) error
	Unbind(path, method string)
	Match(method, path string) (*Route, map[string]string, bool)
	Routes() []Route
}

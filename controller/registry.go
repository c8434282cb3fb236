package controller

import (
	"sort"
	"sync"

	"github.com/saiset-co/sai-web/types"
)

// Gate wraps an action with the policy chain for controller/action.
type Gate func(controller, action string, act types.Action) types.Handler

type Registry struct {
	mu          sync.RWMutex
	gate        Gate
	controllers map[string]map[string]types.Action
}

func NewRegistry(gate Gate) *Registry {
	return &Registry{
		gate:        gate,
		controllers: make(map[string]map[string]types.Action),
	}
}

func (r *Registry) Register(name string, actions map[string]types.Action) error {
	if name == "" || len(actions) == 0 {
		return types.Errorf(types.ErrInvalidParameter, "controller name and actions are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.controllers[name]; exists {
		return types.Errorf(types.ErrControllerExists, "controller: %s", name)
	}

	copied := make(map[string]types.Action, len(actions))
	for action, fn := range actions {
		if action == "" || fn == nil {
			return types.Errorf(types.ErrInvalidParameter, "controller %s: action %q has no function", name, action)
		}
		copied[action] = fn
	}

	r.controllers[name] = copied
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes lists the action routes for every registered controller in bind
// order: "get /<controller>" for index, "all /<controller>/<action>" per
// action, then "get /<controller>/:id" for find so named actions win.
func (r *Registry) Routes() []types.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)

	var routes []types.Route
	for _, name := range names {
		actions := r.controllers[name]

		if act, ok := actions["index"]; ok {
			routes = append(routes, r.route("get", "/"+name, name, "index", act))
		}

		actionNames := make([]string, 0, len(actions))
		for action := range actions {
			actionNames = append(actionNames, action)
		}
		sort.Strings(actionNames)

		for _, action := range actionNames {
			routes = append(routes, r.route(types.VerbAll, "/"+name+"/"+action, name, action, actions[action]))
		}

		if act, ok := actions["find"]; ok {
			routes = append(routes, r.route("get", "/"+name+"/:id", name, "find", act))
		}
	}

	return routes
}

func (r *Registry) Bind(table types.RouteTable) error {
	for _, route := range r.Routes() {
		if err := table.Bind(route); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Unbind(table types.RouteTable) {
	for _, route := range r.Routes() {
		table.Unbind(route.Path, route.Verb)
	}
}

func (r *Registry) route(verb, path, controller, action string, act types.Action) types.Route {
	return types.Route{
		Verb:       verb,
		Path:       path,
		Target:     r.gate(controller, action, act),
		Controller: controller,
		Action:     action,
	}
}

package policy

import (
	"net/http"
	"sort"
	"sync"

	"github.com/saiset-co/sai-web/types"
)

// Registry maps policy names to policy functions.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]types.Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]types.Policy)}
}

func (r *Registry) Register(name string, fn types.Policy) error {
	if name == "" || fn == nil {
		return types.Errorf(types.ErrInvalidParameter, "policy name and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[name]; exists {
		return types.Errorf(types.ErrPolicyExists, "policy: %s", name)
	}

	r.policies[name] = fn
	return nil
}

func (r *Registry) Get(name string) (types.Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.policies[name]
	return fn, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deny returns an intentional rejection for use inside a policy.
func Deny(reason string) error {
	return &types.DeniedError{Reason: reason}
}

// Unauthorized is a Deny that answers 401.
func Unauthorized(reason string) error {
	return types.NewHTTPError(http.StatusUnauthorized, reason)
}

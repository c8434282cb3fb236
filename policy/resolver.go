package policy

import (
	"github.com/saiset-co/sai-web/types"
)

type Source string

const (
	SourceAction     Source = "action"
	SourceController Source = "controller"
	SourceGlobal     Source = "global"
	SourceDefault    Source = "default"
)

type NamedPolicy struct {
	Name string
	Fn   types.Policy
}

// Chain is a compiled Rule: its policy names bound to functions.
type Chain struct {
	Kind     Kind
	Policies []NamedPolicy
}

type Resolution struct {
	Chain  Chain
	Source Source
}

type controllerChains struct {
	wildcard *Chain
	actions  map[string]*Chain
}

// Table is an immutable, compiled policy configuration.
type Table struct {
	global      *Chain
	controllers map[string]*controllerChains
}

func EmptyTable() *Table {
	return &Table{controllers: map[string]*controllerChains{}}
}

// Compile binds every policy name in cfg against registry. Unknown names fail.
func Compile(cfg *Config, registry *Registry) (*Table, error) {
	table := EmptyTable()

	if cfg.Global != nil {
		chain, err := compileRule(Wildcard, *cfg.Global, registry)
		if err != nil {
			return nil, err
		}
		table.global = chain
	}

	for controller, rules := range cfg.Controllers {
		compiled := &controllerChains{actions: make(map[string]*Chain, len(rules.Actions))}

		if rules.Wildcard != nil {
			chain, err := compileRule(controller+"."+Wildcard, *rules.Wildcard, registry)
			if err != nil {
				return nil, err
			}
			compiled.wildcard = chain
		}

		for action, rule := range rules.Actions {
			chain, err := compileRule(controller+"."+action, rule, registry)
			if err != nil {
				return nil, err
			}
			compiled.actions[action] = chain
		}

		table.controllers[controller] = compiled
	}

	return table, nil
}

func compileRule(path string, rule Rule, registry *Registry) (*Chain, error) {
	chain := &Chain{Kind: rule.Kind}
	if rule.Kind != KindChain {
		return chain, nil
	}

	chain.Policies = make([]NamedPolicy, 0, len(rule.Refs))
	for _, name := range rule.Refs {
		fn, ok := registry.Get(name)
		if !ok {
			return nil, types.Errorf(types.ErrPolicyNotFound, "%s references unknown policy %q", path, name)
		}
		chain.Policies = append(chain.Policies, NamedPolicy{Name: name, Fn: fn})
	}
	return chain, nil
}

// Resolve picks the chain for controller/action: exact action, then the
// controller wildcard, then the global wildcard, then allow. Keys are case-sensitive.
func (t *Table) Resolve(controller, action string) Resolution {
	if rules, ok := t.controllers[controller]; ok {
		if chain, ok := rules.actions[action]; ok {
			return Resolution{Chain: *chain, Source: SourceAction}
		}
		if rules.wildcard != nil {
			return Resolution{Chain: *rules.wildcard, Source: SourceController}
		}
	}

	if t.global != nil {
		return Resolution{Chain: *t.global, Source: SourceGlobal}
	}

	return Resolution{Chain: Chain{Kind: KindAllow}, Source: SourceDefault}
}

package policy

import (
	"fmt"
	"sort"

	"github.com/saiset-co/sai-web/types"
)

const Wildcard = "*"

type Kind int

const (
	KindAllow Kind = iota
	KindDeny
	KindChain
)

func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindDeny:
		return "deny"
	case KindChain:
		return "chain"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Rule is the normalized form of one policy config value.
type Rule struct {
	Kind Kind
	Refs []string
}

type ControllerRules struct {
	Wildcard *Rule
	Actions  map[string]Rule
}

// Config is a policy configuration with every value normalized to a Rule.
type Config struct {
	Global      *Rule
	Controllers map[string]*ControllerRules
}

// ParseConfig normalizes the raw policies map. Values may be booleans, a
// policy name or a list of names. A controller given a plain value instead
// of an action map applies it to all of its actions.
func ParseConfig(raw map[string]interface{}) (*Config, error) {
	cfg := &Config{Controllers: make(map[string]*ControllerRules)}

	for _, key := range sortedKeys(raw) {
		value := raw[key]

		if key == Wildcard {
			rule, err := parseRule(key, value)
			if err != nil {
				return nil, err
			}
			cfg.Global = &rule
			continue
		}

		actions, isMap := asMap(value)
		if !isMap {
			rule, err := parseRule(key+"."+Wildcard, value)
			if err != nil {
				return nil, err
			}
			cfg.Controllers[key] = &ControllerRules{Wildcard: &rule, Actions: map[string]Rule{}}
			continue
		}

		rules := &ControllerRules{Actions: make(map[string]Rule, len(actions))}
		for _, action := range sortedKeys(actions) {
			rule, err := parseRule(key+"."+action, actions[action])
			if err != nil {
				return nil, err
			}
			if action == Wildcard {
				wildcard := rule
				rules.Wildcard = &wildcard
				continue
			}
			rules.Actions[action] = rule
		}
		cfg.Controllers[key] = rules
	}

	return cfg, nil
}

func parseRule(path string, value interface{}) (Rule, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return Rule{Kind: KindAllow}, nil
		}
		return Rule{Kind: KindDeny}, nil
	case string:
		if v == "" {
			return Rule{}, types.Errorf(types.ErrPolicyConfigInvalid, "%s: empty policy name", path)
		}
		return Rule{Kind: KindChain, Refs: []string{v}}, nil
	case []string:
		return chainRule(path, v)
	case []interface{}:
		refs := make([]string, 0, len(v))
		for i, item := range v {
			name, ok := item.(string)
			if !ok {
				return Rule{}, types.Errorf(types.ErrPolicyConfigInvalid, "%s[%d]: expected policy name, got %T", path, i, item)
			}
			refs = append(refs, name)
		}
		return chainRule(path, refs)
	}

	return Rule{}, types.Errorf(types.ErrPolicyConfigInvalid, "%s: unsupported value %T", path, value)
}

func chainRule(path string, refs []string) (Rule, error) {
	for i, ref := range refs {
		if ref == "" {
			return Rule{}, types.Errorf(types.ErrPolicyConfigInvalid, "%s[%d]: empty policy name", path, i)
		}
	}
	return Rule{Kind: KindChain, Refs: append([]string(nil), refs...)}, nil
}

func asMap(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(v))
		for k, item := range v {
			converted[fmt.Sprintf("%v", k)] = item
		}
		return converted, true
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package config

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-web/types"
)

// Parser answers dotted-path lookups against the raw YAML document, e.g.
// "session.config.addr" or "policies.test.chain.0".
type Parser struct {
	data map[string]interface{}
}

func NewParser(data map[string]interface{}) *Parser {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Parser{data: data}
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	if value, ok := p.lookup(path); ok {
		return value
	}
	return defaultValue
}

// GetAs decodes the value at path into target through a YAML round trip.
func (p *Parser) GetAs(path string, target interface{}) error {
	value, ok := p.lookup(path)
	if !ok {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	encoded, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}
	if err := yaml.Unmarshal(encoded, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}
	return nil
}

// GetAllPaths lists every leaf path in sorted order.
func (p *Parser) GetAllPaths() []string {
	var paths []string
	walk(p.data, "", &paths)
	sort.Strings(paths)
	return paths
}

func walk(node interface{}, prefix string, paths *[]string) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}

	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			walk(child, join(key), paths)
		}
	case []interface{}:
		for i, child := range v {
			walk(child, join(strconv.Itoa(i)), paths)
		}
	default:
		if prefix != "" {
			*paths = append(*paths, prefix)
		}
	}
}

func (p *Parser) lookup(path string) (interface{}, bool) {
	if path == "" {
		return p.data, true
	}

	var current interface{} = p.data
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			current = v[i]
		default:
			return nil, false
		}
	}

	return current, current != nil
}

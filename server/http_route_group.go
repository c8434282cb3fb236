package server

import (
	"github.com/saiset-co/sai-web/types"
)

// GroupBuilder prefixes every route it creates and copies its metadata onto them.
type GroupBuilder struct {
	table  *RouteTable
	prefix string
	meta   map[string]string
}

func (gb *GroupBuilder) WithMeta(key, value string) *GroupBuilder {
	gb.meta[key] = value
	return gb
}

func (gb *GroupBuilder) Route(verb, path string, handler types.Handler) *RouteBuilder {
	rb := gb.table.Route(verb, gb.prefix+path, handler)
	for k, v := range gb.meta {
		rb.WithMeta(k, v)
	}
	return rb
}

func (gb *GroupBuilder) GET(path string, handler types.Handler) *RouteBuilder {
	return gb.Route("get", path, handler)
}

func (gb *GroupBuilder) POST(path string, handler types.Handler) *RouteBuilder {
	return gb.Route("post", path, handler)
}

func (gb *GroupBuilder) PUT(path string, handler types.Handler) *RouteBuilder {
	return gb.Route("put", path, handler)
}

func (gb *GroupBuilder) DELETE(path string, handler types.Handler) *RouteBuilder {
	return gb.Route("delete", path, handler)
}

func (gb *GroupBuilder) All(path string, handler types.Handler) *RouteBuilder {
	return gb.Route(types.VerbAll, path, handler)
}

func (gb *GroupBuilder) Group(prefix string) *GroupBuilder {
	meta := make(map[string]string, len(gb.meta))
	for k, v := range gb.meta {
		meta[k] = v
	}
	return &GroupBuilder{
		table:  gb.table,
		prefix: gb.prefix + prefix,
		meta:   meta,
	}
}

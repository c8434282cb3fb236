package sai

import (
	"sync/atomic"

	"github.com/saiset-co/sai-web/types"
)

// Container holds the components application code reaches through package
// level accessors.
type Container struct {
	Config atomic.Pointer[types.ConfigManager]
	Logger atomic.Pointer[types.LoggerManager]
	Routes atomic.Pointer[types.RouteTable]
}

var globalContainer atomic.Pointer[Container]

func InitContainer() *Container {
	return &Container{}
}

func SetContainer(container *Container) {
	globalContainer.Store(container)
}

func current() *Container {
	if c := globalContainer.Load(); c != nil {
		return c
	}
	panic("sai container not initialized")
}

func Config() types.ConfigManager {
	if ptr := current().Config.Load(); ptr != nil {
		return *ptr
	}
	panic("ConfigManager not initialized")
}

func Logger() types.LoggerManager {
	if ptr := current().Logger.Load(); ptr != nil {
		return *ptr
	}
	panic("Logger not initialized")
}

func Routes() types.RouteTable {
	if ptr := current().Routes.Load(); ptr != nil {
		return *ptr
	}
	panic("RouteTable not initialized")
}

func (fc *Container) SetConfig(config types.ConfigManager) {
	fc.Config.Store(&config)
}

func (fc *Container) SetLogger(logger types.LoggerManager) {
	fc.Logger.Store(&logger)
}

func (fc *Container) SetRoutes(table types.RouteTable) {
	fc.Routes.Store(&table)
}

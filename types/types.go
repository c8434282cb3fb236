package types

import "context"

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Pinger is implemented by components backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

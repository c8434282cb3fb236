package types

import (
	"time"

	"github.com/valyala/fasthttp"
)

type MetricsManager interface {
	LifecycleManager
	ObserveRequest(method string, status int, duration time.Duration)
	ObservePolicy(controller, action, outcome string)
	ObserveBodyParseFailure(recovered bool)
	Handler() fasthttp.RequestHandler
}

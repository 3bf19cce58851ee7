package gateway

import (
	"time"

	"github.com/gin-gonic/gin"
)

const requestContextKey = "gateway_request_context"

// RequestContext is the per-request identity created at pipeline entry and
// carried through every layer and onto every egress.
type RequestContext struct {
	CorrelationID string
	UserID        string
	TenantID      string
	Roles         []string
	ClientIP      string
	Method        string
	Path          string
	StartTime     time.Time
}

func setRequestContext(c *gin.Context, rc *RequestContext) {
	c.Set(requestContextKey, rc)
}

// requestContext returns the pipeline's request context. The correlation
// middleware runs first on every route, so the value is always present;
// the zero value covers handlers exercised in isolation.
func requestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(*RequestContext); ok {
			return rc
		}
	}
	return &RequestContext{}
}

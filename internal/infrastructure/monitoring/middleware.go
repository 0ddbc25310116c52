package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		// Process request
		c.Next()

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, path, status, duration)
	}
}

// Timer measures operation duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	engine  string
	module  int
}

// NewTimer starts timing one invocation
func NewTimer(metrics *Metrics, engine string, moduleBytes int) *Timer {
	metrics.InvocationsInFlight.Inc()
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		engine:  engine,
		module:  moduleBytes,
	}
}

// Stop records the invocation outcome; errorKind is empty on success
func (t *Timer) Stop(errorKind string) {
	t.metrics.InvocationsInFlight.Dec()
	t.metrics.RecordInvocation(t.engine, errorKind, t.module, time.Since(t.start))
}

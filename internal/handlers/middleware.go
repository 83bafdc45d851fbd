package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/cortado/internal/metrics"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

// RequestMetrics counts every request by matched route and status code.
func RequestMetrics(m *metrics.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Request(route, strconv.Itoa(c.Writer.Status()))
	}
}

// RequestLogger replaces gin's default logger with the zap one.
func RequestLogger(logger *Logger.Logger) gin.HandlerFunc {
	log := Logger.OrNop(logger).Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

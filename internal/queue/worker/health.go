package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the worker's liveness and readiness probes.
func (w *Worker) HealthHandler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// readiness flips off the moment shutdown starts, so the orchestrator
	// stops routing probes before in-flight jobs drain
	r.GET("/readyz", func(c *gin.Context) {
		w.readyMu.RLock()
		ready := w.ready
		w.readyMu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	return r
}

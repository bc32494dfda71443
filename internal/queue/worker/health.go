package worker

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthServer is the standalone healthz/readyz/metrics endpoint the
// executor and retry scanner expose on their own port, separate from the
// API's router. Ready flips false as soon as shutdown begins so a load
// balancer stops routing new delivery to a draining instance.
type HealthServer struct {
	ready atomic.Bool
}

func NewHealthServer() *HealthServer {
	h := &HealthServer{}
	h.ready.Store(true)
	return h
}

func (h *HealthServer) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthServer) Handler(reg *prometheus.Registry) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/readyz", func(ctx *gin.Context) {
		if !h.ready.Load() {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r
}

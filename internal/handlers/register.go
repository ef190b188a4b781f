package handlers

import (
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// RegisterAllHandlers mounts the admin API and /metrics on r.
func RegisterAllHandlers(r *router.Router, admin AdminHandler, gatherer prometheus.Gatherer) {
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/queue", admin.Queue)
	r.PUT("/queue/suspended", admin.Suspend)
	r.DELETE("/queue/{kind}/{owner}", admin.ClearQueue)
	r.POST("/scan", admin.Scan)

	r.GET("/peers", admin.Peers)
	r.POST("/peers/{peer}/connect", admin.Connect)
	r.POST("/peers/{peer}/disconnect", admin.Disconnect)
	r.POST("/peers/{peer}/read/{char}", admin.Read)
	r.POST("/peers/{peer}/write/{char}", admin.Write)
}

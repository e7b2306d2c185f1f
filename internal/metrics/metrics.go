package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_ws_connections",
		Help: "Current number of live websocket connections",
	})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms_active",
		Help: "Current number of rooms with at least one member",
	})
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_broadcasts_total",
		Help: "Total number of events broadcast, by outbound event",
	}, []string{"event"})
	DroppedFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_frames_total",
		Help: "Frames dropped because a connection queue was full",
	})
	ThrottledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected by a limiter, by route class",
	}, []string{"class"})
	BlockedIPsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ip_blocks_total",
		Help: "Number of times an IP crossed the failure threshold",
	})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_derived_total",
		Help: "Notifications derived from chat events, by outcome",
	}, []string{"outcome"})
	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "security_alerts_total",
		Help: "Security alerts, by type and outcome",
	}, []string{"type", "outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		RoomsActive,
		BroadcastsTotal,
		DroppedFramesTotal,
		ThrottledTotal,
		BlockedIPsTotal,
		NotificationsTotal,
		AlertsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware registra contagem e latência por rota
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/live-service/internal/config"
	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/service"
	"github.com/weiawesome/wes-io-live/live-service/internal/store"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
	"github.com/weiawesome/wes-io-live/live-service/pkg/response"
)

const scopeCluster = "cluster"

// Handler serves the read-only HTTP API.
type Handler struct {
	service    service.LiveService
	index      store.LiveIndex
	iceServers []config.ICEServer
	gatherer   prometheus.Gatherer

	// sf collapses concurrent live index reads for the same key.
	sf singleflight.Group
}

// NewHandler creates a new HTTP handler. index may be nil when the live
// index is disabled.
func NewHandler(svc service.LiveService, index store.LiveIndex, webrtc config.WebRTCConfig, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		service:    svc,
		index:      index,
		iceServers: webrtc.ICEServerList(),
		gatherer:   gatherer,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		streams := api.Group("/live-streams")
		{
			streams.GET("", h.ListStreams)
			streams.GET("/:id", h.GetStream)
		}
	}

	r.GET("/api/ice-servers", h.GetICEServers)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// ListStreams lists live streams on this instance, or across the cluster
// with ?scope=cluster.
func (h *Handler) ListStreams(c *gin.Context) {
	if c.Query("scope") != scopeCluster {
		response.Success(c, h.service.ActiveStreams())
		return
	}

	if h.index == nil {
		response.ServiceUnavailable(c, "live index is disabled")
		return
	}

	ctx := c.Request.Context()
	result, err, _ := h.sf.Do("list", func() (interface{}, error) {
		return h.index.List(ctx)
	})
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Msg("failed to list live index")
		response.InternalError(c, "failed to list live streams")
		return
	}
	streams, _ := result.([]domain.StreamSummary)
	if streams == nil {
		streams = []domain.StreamSummary{}
	}
	response.Success(c, streams)
}

// GetStream returns one stream and its battle. With ?scope=cluster the
// stream is read from the live index and carries no battle detail.
func (h *Handler) GetStream(c *gin.Context) {
	streamID := c.Param("id")

	if c.Query("scope") != scopeCluster {
		detail, ok := h.service.Stream(streamID)
		if !ok {
			response.NotFound(c, "stream not live")
			return
		}
		response.Success(c, detail)
		return
	}

	if h.index == nil {
		response.ServiceUnavailable(c, "live index is disabled")
		return
	}

	ctx := c.Request.Context()
	result, err, _ := h.sf.Do("get:"+streamID, func() (interface{}, error) {
		return h.index.Get(ctx, streamID)
	})
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldStreamerID, streamID).Msg("failed to read live index")
		response.InternalError(c, "failed to get live stream")
		return
	}
	sum, _ := result.(*domain.StreamSummary)
	if sum == nil {
		response.NotFound(c, "stream not live")
		return
	}
	response.Success(c, domain.StreamDetail{StreamSummary: *sum})
}

// GetICEServers returns the ICE servers clients should use. A public STUN
// server is always included.
func (h *Handler) GetICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.iceServers})
}

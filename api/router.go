// Package api exposes a Service over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	imagestorage "github.com/Skryldev/image-storage"
	"github.com/Skryldev/image-storage/config"
	"github.com/Skryldev/image-storage/tempurl"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Service  *imagestorage.Service
	TempURLs *tempurl.Store
	Logger   zerolog.Logger
	// Gatherer backs /metrics; nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	HTTP     config.HTTPConfig
	// URLPrefix is where the upload root is served, without slashes.
	URLPrefix string
	// Now is overridable for tests.
	Now func() time.Time
}

// NewRouter assembles middleware and registers every route.
func NewRouter(d Deps) *gin.Engine {
	// Request bodies map onto fully enumerated structs.
	binding.EnableDecoderDisallowUnknownFields = true

	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(RequestID(), RequestLogger(d.Logger), Recovery(d.Logger))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = d.HTTP.AllowOrigins
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", HeaderRequestID}
	corsCfg.AllowCredentials = true
	r.Use(cors.New(corsCfg))

	h := NewHandler(d.Service, d.TempURLs, d.HTTP, d.Logger, d.Now)

	r.GET("/", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	if d.URLPrefix != "" {
		r.Static("/"+d.URLPrefix, d.Service.Store().Root())
	}
	r.GET("/t/:token", h.ServeTemp)

	apiGroup := r.Group("/api", BodyLimit(d.HTTP.MaxBodyBytes))
	{
		apiGroup.POST("/saveImage", h.SaveLegacy)
		apiGroup.POST("/images", h.Save)
		apiGroup.POST("/images/raw", h.SaveRaw)
		apiGroup.GET("/images", h.List)
		apiGroup.DELETE("/images", h.Delete)
		apiGroup.POST("/images/share", h.Share)
		apiGroup.DELETE("/images/share/:token", h.Unshare)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	return r
}

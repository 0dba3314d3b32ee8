package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ammar0144/entity4go/pkg/dataservice"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBundleSize = 8 << 20

func init() {
	// keys and decimals reach the models as json.Number, unrounded
	binding.EnableDecoderUseNumber = true
}

// Router builds the gin engine serving the data service
func (s *Service) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.metrics.middleware())

	// Health check endpoint
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	api := r.Group("/breeze/:service", s.requireService())
	// Metadata shares the resource segment with queries
	api.GET("/:resource", s.handleGet)
	api.POST("/:action", s.handlePost)

	return r
}

// requestLogger logs one line per request
func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		s.logger.Debug("http request", attrs...)
	}
}

// requireService rejects requests addressed to another service name
func (s *Service) requireService() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name := c.Param("service"); name != s.cfg.ServiceName {
			s.writeError(c, fmt.Errorf("%w: service %q", dataservice.ErrUnknownResource, name))
			return
		}
		c.Next()
	}
}

func (s *Service) handleHealth(c *gin.Context) {
	if err := s.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": s.cfg.ServiceName})
}

func (s *Service) handleGet(c *gin.Context) {
	resource := c.Param("resource")
	if resource == "Metadata" {
		c.Data(http.StatusOK, "application/json; charset=utf-8", s.metadataJSON)
		return
	}

	req := dataservice.QueryRequest{}
	if raw := c.Query("query"); raw != "" {
		if err := binding.JSON.BindBody([]byte(raw), &req); err != nil {
			s.writeError(c, fmt.Errorf("%w: %v", dataservice.ErrInvalidQuery, err))
			return
		}
	}
	req.Resource = resource

	result, err := s.ExecuteQuery(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Service) handlePost(c *gin.Context) {
	switch c.Param("action") {
	case "SaveChanges":
		s.handleSave(c)
	case "Reset":
		if !s.cfg.EnableReset {
			s.writeError(c, fmt.Errorf("%w: reset is disabled", dataservice.ErrUnknownResource))
			return
		}
		if err := s.Reset(c.Request.Context()); err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	default:
		s.writeError(c, fmt.Errorf("%w: %q", dataservice.ErrUnknownResource, c.Param("action")))
	}
}

func (s *Service) handleSave(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBundleSize)

	var bundle dataservice.SaveBundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		// a body over maxBundleSize surfaces as *http.MaxBytesError and maps to 413
		s.writeError(c, fmt.Errorf("%w: %w", dataservice.ErrInvalidSaveBundle, err))
		return
	}

	result, err := s.SaveChanges(c.Request.Context(), bundle)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Package server provides the HTTP edge of the scan service: a
// multipart upload endpoint that invokes the omr pipeline, plus health
// and version probes. It contains no image logic of its own; it only
// parses request fields, maps pipeline errors to status codes, and
// serializes results.
package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"omrscan/internal/config"
)

// Server wires the scan routes onto a gin engine.
type Server struct {
	engine  *gin.Engine
	cfg     *config.Config
	version string
}

// New builds the HTTP server for the given configuration.
func New(cfg *config.Config, version string) *Server {
	if cfg.Mode != config.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  gin.Default(),
		cfg:     cfg,
		version: version,
	}

	s.engine.GET("/health", s.health)
	s.engine.GET("/version", s.versionInfo)
	s.engine.POST("/scan", s.scan)

	return s
}

// Run blocks serving HTTP on the configured port.
func (s *Server) Run() error {
	return s.engine.Run(":" + s.cfg.Port)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(200, gin.H{
		"status":    "ok",
		"mode":      s.cfg.Mode,
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) versionInfo(c *gin.Context) {
	c.JSON(200, gin.H{
		"name":      "omr-scan",
		"version":   s.version,
		"mode":      s.cfg.Mode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

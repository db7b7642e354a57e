// Package api exposes the sync engine over HTTP: a delta endpoint driving
// reconciliation passes and a history endpoint serving the materialized
// snapshot.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/sync"
)

// Server wires the HTTP routes to the sync components.
type Server struct {
	manager  *sync.Manager
	snapshot *sync.SnapshotReader
	log      zerolog.Logger

	// authSecret enables the bearer-token middleware when non-empty.
	authSecret     string
	allowedOrigins []string
}

// New creates the HTTP server.
func New(manager *sync.Manager, snapshot *sync.SnapshotReader, log zerolog.Logger, authSecret string, allowedOrigins []string) *Server {
	return &Server{
		manager:        manager,
		snapshot:       snapshot,
		log:            log.With().Str("component", "api").Logger(),
		authSecret:     authSecret,
		allowedOrigins: allowedOrigins,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(s.allowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	emails := r.Group("/emails")
	if s.authSecret != "" {
		emails.Use(authMiddleware(s.authSecret))
	}

	emails.GET("/delta", s.handleDelta)
	emails.GET("/history", s.handleHistory)

	r.GET("/sync/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.manager.Status())
	})

	return r
}

// handleDelta runs one reconciliation pass and returns the new messages.
func (s *Server) handleDelta(c *gin.Context) {
	limit := intQuery(c, "limit", sync.DefaultDeltaLimit)

	delta, err := s.manager.Sync(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("delta sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, delta)
}

// handleHistory serves a page of the materialized history.
func (s *Server) handleHistory(c *gin.Context) {
	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", sync.DefaultDeltaLimit)
	sinceMarker := c.Query("sinceId")

	page, err := s.snapshot.Page(c.Request.Context(), offset, limit, sinceMarker)
	if err != nil {
		s.log.Error().Err(err).Msg("history read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, page)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}

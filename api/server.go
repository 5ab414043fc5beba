// Package api is Retrack's HTTP ingress (spec.md §6): tracker CRUD, revision
// listing/force-tick/clear, and a status endpoint. Handler structs taking a
// narrow service interface, and gin.H error envelopes, follow
// jonesrussell-north-cloud's pipeline/internal/api package.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Server wires Retrack's HTTP routes onto a gin.Engine.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the HTTP server, registering every route from spec.md §6.
func NewServer(addr string, trackers TrackerService, revisions RevisionService, version string) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	trackerHandler := NewTrackerHandler(trackers)
	revisionHandler := NewRevisionHandler(revisions)
	statusHandler := NewStatusHandler(version)

	group := engine.Group("/api")
	group.POST("/trackers", trackerHandler.Create)
	group.GET("/trackers", trackerHandler.List)
	group.GET("/trackers/:id", trackerHandler.Get)
	group.PUT("/trackers/:id", trackerHandler.Update)
	group.DELETE("/trackers/:id", trackerHandler.Delete)
	group.DELETE("/trackers", trackerHandler.DeleteByTag)

	group.GET("/trackers/:id/revisions", revisionHandler.List)
	group.POST("/trackers/:id/revisions", revisionHandler.ForceTick)
	group.DELETE("/trackers/:id/revisions", revisionHandler.Clear)

	group.GET("/status", statusHandler.Get)

	return &Server{
		engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine},
	}
}

// Start serves until the process is shut down.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

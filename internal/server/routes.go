package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/rprocctl/internal/resource"
	"github.com/danmuck/rprocctl/internal/rproc"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": s.name,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/processors", s.listProcessors)
	api.GET("/processors/:name", s.getProcessor)
	api.GET("/processors/:name/trace", s.getTraceBuffers)
	api.POST("/processors/:name/acquire", s.acquireProcessor)
	api.POST("/processors/:name/release", s.releaseProcessor)
}

func (s *Server) listProcessors(c *gin.Context) {
	names := s.reg.Names()
	statuses := make([]rproc.Status, 0, len(names))
	for _, name := range names {
		d, err := s.reg.Lookup(name)
		if err != nil {
			// Unregistered between Names and Lookup.
			continue
		}
		statuses = append(statuses, d.Status())
	}
	c.JSON(http.StatusOK, gin.H{"processors": statuses})
}

func (s *Server) getProcessor(c *gin.Context) {
	d, err := s.reg.Lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func (s *Server) getTraceBuffers(c *gin.Context) {
	d, err := s.reg.Lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	boot := d.BootContext()
	buffers := []resource.TraceBuffer{}
	if boot != nil {
		buffers = append(buffers, boot.TraceBuffers...)
	}
	c.JSON(http.StatusOK, gin.H{
		"processor":     d.Name(),
		"state":         d.State(),
		"trace_buffers": buffers,
	})
}

func (s *Server) acquireProcessor(c *gin.Context) {
	name := c.Param("name")
	h, err := s.ctl.Acquire(name)
	if err != nil {
		c.JSON(acquireStatus(err), gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.held[name] = append(s.held[name], h)
	s.mu.Unlock()

	d, lookupErr := s.reg.Lookup(name)
	if lookupErr != nil {
		c.JSON(http.StatusOK, gin.H{"processor": name})
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func (s *Server) releaseProcessor(c *gin.Context) {
	name := c.Param("name")

	s.mu.Lock()
	handles := s.held[name]
	if len(handles) == 0 {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "no handle held for " + name})
		return
	}
	h := handles[len(handles)-1]
	s.held[name] = handles[:len(handles)-1]
	s.mu.Unlock()

	if err := s.ctl.Release(h); err != nil {
		// Stop failures still leave the processor offline.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	d, err := s.reg.Lookup(name)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"processor": name})
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func acquireStatus(err error) int {
	switch {
	case errors.Is(err, rproc.ErrUnknownName):
		return http.StatusNotFound
	case errors.Is(err, resource.ErrResourceUnavailable):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

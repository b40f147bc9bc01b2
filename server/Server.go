// Package server exposes a training session's control surface over
// HTTP. Commands are queued on a channel that the session consumes
// between ticks.
package server

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samuelfneumann/flappydqn/experiment"
)

// StatsSource provides snapshots of a session
type StatsSource interface {
	Stats() experiment.Stats
}

// Server serves the control surface of a single session
type Server struct {
	Addr   string
	source StatsSource
	cmds   chan<- experiment.Command
	logger zerolog.Logger
	server *http.Server

	lock  *sync.Mutex
	frame image.Image
}

// New returns a Server listening on addr. Commands received are sent
// to cmds without blocking.
func New(addr string, source StatsSource, cmds chan<- experiment.Command,
	logger zerolog.Logger) *Server {
	s := &Server{
		Addr:   addr,
		source: source,
		cmds:   cmds,
		logger: logger.With().Str("component", "server").Logger(),
		lock:   new(sync.Mutex),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/frame.png", s.handleFrame)
	r.POST("/commands/:name", s.handleCommand)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetFrame sets the frame served at /frame.png. It has the signature
// of a session's frame hook.
func (s *Server) SetFrame(img image.Image) {
	s.lock.Lock()
	s.frame = img
	s.lock.Unlock()
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Stats())
}

func (s *Server) handleFrame(c *gin.Context) {
	s.lock.Lock()
	frame := s.frame
	s.lock.Unlock()

	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame rendered yet"})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, frame); err != nil {
		s.logger.Error().Err(err).Msg("could not encode frame")
	}
}

func (s *Server) handleCommand(c *gin.Context) {
	name := c.Param("name")
	cmd, err := experiment.ParseCommand(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	select {
	case s.cmds <- cmd:
		s.logger.Debug().Stringer("command", cmd).Msg("command queued")
		c.JSON(http.StatusAccepted, gin.H{"command": name})
	default:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "command queue full"})
	}
}

// Start serves requests until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info().Str("addr", s.Addr).Msg("serving control surface")
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("could not shut down server")
		}
	}()
}

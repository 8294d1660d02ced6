// Package web provides the HTTP control API and status page for the relay daemon.
package web

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/relay-controller/internal/control"
	"github.com/sweeney/relay-controller/internal/status"
)

// DefaultTimeout bounds how long a handler waits on the control loop.
const DefaultTimeout = 2 * time.Second

// Commander submits a command to the control loop and waits for its result.
// *control.Queue implements it.
type Commander interface {
	Do(ctx context.Context, cmd control.Command) (control.Status, error)
}

// Server serves the control API over HTTP.
type Server struct {
	httpServer *http.Server
	cmds       Commander
	tracker    *status.Tracker
	timeout    time.Duration
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// New creates a Server. Relay operations go through cmds; the page and
// diagnostics read from tracker.
func New(addr string, cmds Commander, tracker *status.Tracker, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Server{cmds: cmds, tracker: tracker, timeout: timeout}

	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	router.GET("/", s.handleIndex)
	router.GET("/index.html", s.handleIndex)
	router.GET("/index.json", s.handleJSON)

	router.GET("/status", s.handleStatus)
	router.GET("/toggle", s.handleToggle)
	router.GET("/alloff", s.handleAllOff)
	router.GET("/eepromflag", s.handleFlipRestore)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	s.run(c, control.Command{Op: control.OpStatus})
}

// handleToggle flips the relay named by ?relay=. A missing or malformed index
// is not an error: the current status is returned unchanged.
func (s *Server) handleToggle(c *gin.Context) {
	ch, err := strconv.Atoi(c.Query("relay"))
	if err != nil {
		s.run(c, control.Command{Op: control.OpStatus})
		return
	}
	s.run(c, control.Command{Op: control.OpToggle, Channel: ch})
}

func (s *Server) handleAllOff(c *gin.Context) {
	s.run(c, control.Command{Op: control.OpAllOff})
}

func (s *Server) handleFlipRestore(c *gin.Context) {
	s.run(c, control.Command{Op: control.OpFlipRestore})
}

func (s *Server) run(c *gin.Context, cmd control.Command) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	st, err := s.cmds.Do(ctx, cmd)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, status.RelayFields(st))
	case errors.Is(err, control.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Printf("http: %s unavailable: %v", cmd.Op, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Printf("http: %s failed: %v", cmd.Op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	var buf bytes.Buffer
	if err := renderHTML(&buf, s.tracker.Snapshot()); err != nil {
		log.Printf("http: render index: %v", err)
		c.String(http.StatusInternalServerError, "render error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

// requestLogger logs one line per request through the standard logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("http: %s %s %d %v", c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), time.Since(start).Truncate(time.Microsecond))
	}
}

// Package server exposes template management and the compositing proxy over
// HTTP
package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/bodgit/tileoverlay"
	"github.com/bodgit/tileoverlay/bridge"
	"github.com/bodgit/tileoverlay/tile"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxUpload = 32 << 20

// Server routes template management requests to a Compositor and proxies
// everything else to the upstream host through a bridge Observer
type Server struct {
	compositor *tileoverlay.Compositor
	handler    *bridge.Handler
	proxy      *httputil.ReverseProxy
	logger     logrus.FieldLogger
}

// New returns a Server. Requests not handled by the Server itself are sent
// to upstream with observer as the transport. If upstream is nil there is
// no proxy.
func New(compositor *tileoverlay.Compositor, handler *bridge.Handler, observer *bridge.Observer, upstream *url.URL, logger logrus.FieldLogger) *Server {
	s := &Server{
		compositor: compositor,
		handler:    handler,
		logger:     logger,
	}

	if upstream != nil {
		s.proxy = NewProxy(upstream, observer, logger)
	}

	return s
}

// NewProxy returns a reverse proxy to upstream using observer as the
// transport
func NewProxy(upstream *url.URL, observer *bridge.Observer, logger logrus.FieldLogger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = upstream.Host
		// Tiles must arrive unencoded to be decoded and merged
		r.Header.Del("Accept-Encoding")
	}
	proxy.Transport = observer
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WithError(err).WithField("path", r.URL.Path).Warn("Upstream request failed")
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("Handled request")
	}
}

// Handler returns the http.Handler serving every route
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete}
	r.Use(cors.New(config))

	r.GET("/bridge", gin.WrapH(s.handler))

	g := r.Group("/templates")
	g.GET("", s.list)
	g.POST("", s.create)
	g.DELETE("/:id", s.remove)
	g.POST("/toggle", s.toggle)
	g.GET("/export", s.export)
	g.POST("/import", s.importTemplates)

	if s.proxy != nil {
		r.NoRoute(gin.WrapH(s.proxy))
	}

	return r
}

func (s *Server) fail(c *gin.Context, err error) {
	var (
		verr *tileoverlay.ValidationError
		derr *tileoverlay.DecodeError
		perr *tileoverlay.PersistenceError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr), errors.As(err, &derr):
		status = http.StatusBadRequest
	case errors.As(err, &perr):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled":   s.compositor.Enabled(),
		"userID":    s.compositor.UserID(),
		"templates": s.compositor.Templates(),
	})
}

// anchor reads the tx, ty, px and py form values. If none are given the
// coordinates last captured by the bridge are used.
func (s *Server) anchor(c *gin.Context) (*tile.Anchor, error) {
	names := []string{"tx", "ty", "px", "py"}

	var given int
	values := make([]int, 0, len(names))
	for _, name := range names {
		v, ok := c.GetPostForm(name)
		if !ok || v == "" {
			continue
		}
		given++
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil, tileoverlay.Validationf("coordinate %s: %q is not a number", name, v)
		}
		values = append(values, i)
	}

	if given == 0 {
		if a, ok := s.handler.LastCoords(); ok {
			return &a, nil
		}
		return nil, nil
	}

	a, err := tile.AnchorFromSlice(values)
	if err != nil {
		return nil, &tileoverlay.ValidationError{Msg: err.Error()}
	}
	return &a, nil
}

func (s *Server) create(c *gin.Context) {
	anchor, err := s.anchor(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, tileoverlay.Validationf("no template image: %v", err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		s.fail(c, err)
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = fh.Filename
	}

	id, err := s.compositor.CreateTemplate(c.Request.Context(), name, b, anchor)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) remove(c *gin.Context) {
	ok, err := s.compositor.RemoveTemplate(c.Request.Context(), c.Param("id"))
	switch {
	case !ok:
		c.JSON(http.StatusNotFound, gin.H{"error": "no such template"})
	case err != nil:
		s.fail(c, err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) toggle(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.PostForm("enabled"))
	if err != nil {
		s.fail(c, tileoverlay.Validationf("enabled: %v", err))
		return
	}

	s.compositor.ToggleTemplates(enabled)

	c.JSON(http.StatusOK, gin.H{"enabled": s.compositor.Enabled()})
}

func (s *Server) export(c *gin.Context) {
	b, err := s.compositor.TemplatesForSaving()
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="templates.json"`)
	c.Data(http.StatusOK, "application/json", b)
}

func (s *Server) importTemplates(c *gin.Context) {
	var r io.Reader = c.Request.Body
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			s.fail(c, err)
			return
		}
		defer f.Close()
		r = f
	}

	b, err := io.ReadAll(io.LimitReader(r, maxUpload))
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	loadErr := s.compositor.LoadTemplatesFromData(ctx, b)

	// A set that cannot be read at all is rejected, individual templates
	// that fail are reported alongside the result
	if _, ok := loadErr.(*tileoverlay.DecodeError); ok {
		s.fail(c, loadErr)
		return
	}

	if err := s.compositor.SaveTemplates(ctx); err != nil {
		s.fail(c, err)
		return
	}

	body := gin.H{"templates": len(s.compositor.Templates())}
	if loadErr != nil {
		body["error"] = loadErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

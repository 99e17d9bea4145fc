// Package server exposes the Channel Framework endpoints over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	"github.com/fpt/discord-zendesk-bridge/internal/config"
	"github.com/fpt/discord-zendesk-bridge/internal/proxy"
	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Tenants is the session registry as seen by the HTTP layer.
type Tenants interface {
	Pull(ctx context.Context, meta bridge.TenantMetadata) ([]zendesk.ExternalResource, error)
	Channelback(ctx context.Context, uuid string, req bridge.ChannelbackRequest) (string, error)
	ResolveClickthrough(ctx context.Context, externalID string) (string, error)
	HandleStatusChange(ctx context.Context, threadID, status string) bool
	Len() int
}

// Options wires a Server.
type Options struct {
	Config      *config.Config
	Tenants     Tenants
	Attachments *proxy.Handler // nil disables the attachment proxy
	Registry    *prometheus.Registry
	Logger      *pkgLogger.Logger
	Now         func() time.Time // webhook signature clock; defaults to time.Now
}

// Server is the bridge HTTP API.
type Server struct {
	cfg     *config.Config
	tenants Tenants
	logger  *pkgLogger.Logger
	now     func() time.Time
	engine  *gin.Engine
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:     opts.Config,
		tenants: opts.Tenants,
		logger:  opts.Logger.WithComponent("http"),
		now:     opts.Now,
	}

	m := newHTTPMetrics(opts.Registry)

	r := gin.New()
	r.Use(gin.Recovery(), m.instrument(), s.accessLog())
	r.SetHTMLTemplate(adminTemplates)

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	r.GET("/manifest.json", s.manifest)
	r.POST("/admin", s.adminForm)
	r.POST("/admin/save", s.adminSave)
	r.GET("/pull", s.pull)
	r.POST("/pull", s.pull)
	r.POST("/channelback", s.channelback)
	r.GET("/clickthrough", s.clickthrough)
	r.POST("/webhook", s.webhook)
	if opts.Attachments != nil {
		opts.Attachments.Register(r)
	}

	s.engine = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr, accepting HTTP/1.1 and cleartext HTTP/2, until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(s.engine, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.InfoWithIntention(pkgLogger.IntentionSuccess, "HTTP server listening", "addr", addr, "site", s.cfg.Site)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server error")
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

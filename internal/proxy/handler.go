package proxy

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

// passthroughHeaders are copied from the upstream response.
var passthroughHeaders = []string{"Content-Disposition", "Cache-Control", "Last-Modified", "ETag"}

// chatCDNHosts are the only hosts served when proxied URLs are unsigned.
var chatCDNHosts = []string{"cdn.discordapp.com", "media.discordapp.net"}

// Handler streams remote attachments.
type Handler struct {
	signer  *Signer
	client  *http.Client
	timeout time.Duration
	hosts   []string // allowed upstream hosts without a signer secret
	logger  *pkgLogger.Logger
}

// NewHandler creates a streaming handler. Each upstream fetch is bounded by timeout.
func NewHandler(signer *Signer, timeout time.Duration, logger *pkgLogger.Logger) *Handler {
	return &Handler{
		signer:  signer,
		client:  &http.Client{},
		timeout: timeout,
		hosts:   chatCDNHosts,
		logger:  logger.WithComponent("proxy"),
	}
}

// Register mounts the handler on r at RoutePrefix.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET(RoutePrefix+"/:ref/:name", h.Serve)
}

// Serve handles GET /attachment/:ref/:name[?token=...].
func (h *Handler) Serve(c *gin.Context) {
	remote, err := DecodeRef(c.Param("ref"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.signer.Signed() {
		err = h.signer.Verify(c.Query("token"), remote)
	} else if !allowedHost(remote, h.hosts) {
		err = errors.Errorf("host of %q is not a chat CDN", remote)
	}
	if err != nil {
		h.logger.Warn("Rejected attachment request", "error", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp, err := h.fetch(ctx, remote)
	if err != nil {
		h.logger.Error("Attachment fetch failed", "url", remote, "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream fetch failed"})
		return
	}
	defer resp.Body.Close()

	extra := make(map[string]string)
	for _, k := range passthroughHeaders {
		if v := resp.Header.Get(k); v != "" {
			extra[k] = v
		}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h.logger.DebugWithIntention(pkgLogger.IntentionDelivery, "Streaming attachment", "url", remote, "length", strconv.FormatInt(resp.ContentLength, 10))
	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, extra)
}

func allowedHost(remote string, hosts []string) bool {
	u, err := url.Parse(remote)
	if err != nil {
		return false
	}
	return slices.Contains(hosts, strings.ToLower(u.Hostname()))
}

func (h *Handler) fetch(ctx context.Context, remote string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("download returned status %d", resp.StatusCode)
	}
	return resp, nil
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

// pullRequest is the form body of a pull call.
type pullRequest struct {
	Metadata string `form:"metadata" json:"metadata" binding:"required"`
	State    string `form:"state" json:"state"`
}

// channelbackRequest is the form body of a channelback call.
type channelbackRequest struct {
	Metadata string `form:"metadata" json:"metadata" binding:"required"`
	Message  string `form:"message" json:"message"`
	ThreadID string `form:"thread_id" json:"thread_id" binding:"required"`
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.tenants.Len()})
}

func (s *Server) manifest(c *gin.Context) {
	site := s.cfg.Site
	c.JSON(http.StatusOK, zendesk.Manifest{
		Name:             s.cfg.Integration.Name,
		ID:               site,
		Author:           s.cfg.Integration.Author,
		Version:          s.cfg.Integration.Version,
		ChannelbackFiles: s.pushEnabled(),
		PushClientID:     s.cfg.Integration.PushClientID,
		URLs: zendesk.ManifestURLs{
			AdminUI:         site + "/admin",
			PullURL:         site + "/pull",
			ChannelbackURL:  site + "/channelback",
			ClickthroughURL: site + "/clickthrough",
		},
	})
}

func (s *Server) pull(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBind(&req); err != nil {
		s.fail(c, errors.Wrap(bridge.ErrValidation, err.Error()))
		return
	}
	meta, err := s.tenantMetadata(req.Metadata)
	if err != nil {
		s.fail(c, err)
		return
	}

	items, err := s.tenants.Pull(c.Request.Context(), meta)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(items) > 0 {
		s.logger.DebugWithIntention(pkgLogger.IntentionDelivery, "Pulled resources", "tenant", meta.UUID, "count", len(items))
	}
	c.JSON(http.StatusOK, zendesk.PullResponse{ExternalResources: items})
}

func (s *Server) channelback(c *gin.Context) {
	var req channelbackRequest
	if err := c.ShouldBind(&req); err != nil {
		s.fail(c, errors.Wrap(bridge.ErrValidation, err.Error()))
		return
	}
	meta, err := s.tenantMetadata(req.Metadata)
	if err != nil {
		s.fail(c, err)
		return
	}

	// thread_id echoes the thread resource's external id.
	threadID := bridge.Decode(req.ThreadID).ThreadID
	if !bridge.ValidID(threadID) {
		s.fail(c, errors.Wrapf(bridge.ErrValidation, "invalid thread_id %q", req.ThreadID))
		return
	}

	// Form arrays arrive as file_urls[] from the Channel Framework.
	files := append(c.PostFormArray("file_urls[]"), c.PostFormArray("file_urls")...)

	id, err := s.tenants.Channelback(c.Request.Context(), meta.UUID, bridge.ChannelbackRequest{
		Message:  req.Message,
		ThreadID: threadID,
		FileURLs: files,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	s.logger.InfoWithIntention(pkgLogger.IntentionChannel, "Channelback delivered", "tenant", meta.UUID, "external_id", id)
	c.JSON(http.StatusOK, zendesk.ChannelbackResponse{ExternalID: id, AllowChannelback: true})
}

func (s *Server) clickthrough(c *gin.Context) {
	externalID := c.Query("external_id")
	if externalID == "" {
		s.fail(c, errors.Wrap(bridge.ErrValidation, "external_id is required"))
		return
	}

	url, err := s.tenants.ResolveClickthrough(c.Request.Context(), externalID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// webhook always acknowledges with 200 unless the signature is wrong, so
// the ticketing system never redelivers.
func (s *Server) webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.logger.Warn("Failed to read webhook body", "error", err)
		c.Status(http.StatusOK)
		return
	}

	if secret := s.cfg.Zendesk.WebhookSecret; secret != "" {
		err := zendesk.VerifyWebhook([]byte(secret),
			c.GetHeader(zendesk.SignatureHeader),
			c.GetHeader(zendesk.SignatureTimestampHeader),
			body, s.now(), s.cfg.Zendesk.WebhookTolerance.Std())
		if err != nil {
			s.logger.Warn("Rejected webhook", "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
	}

	var payload zendesk.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Warn("Malformed webhook payload", "error", err)
		c.Status(http.StatusOK)
		return
	}

	threadID, ok := payload.Tags.ThreadID()
	if !ok || !bridge.ValidID(threadID) {
		s.logger.Debug("Webhook without thread tag", "status", payload.Status)
		c.Status(http.StatusOK)
		return
	}

	handled := s.tenants.HandleStatusChange(c.Request.Context(), threadID, payload.Status)
	s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Ticket status changed", "thread", threadID, "status", payload.Status, "handled", handled)
	c.Status(http.StatusOK)
}

// tenantMetadata parses and validates the metadata blob. The push descriptor
// is kept only when push delivery is enabled for the integration.
func (s *Server) tenantMetadata(raw string) (bridge.TenantMetadata, error) {
	m, err := zendesk.ParseMetadata(raw)
	if err != nil {
		return bridge.TenantMetadata{}, errors.Wrapf(bridge.ErrValidation, "metadata is not valid JSON: %v", err)
	}
	if !bridge.ValidID(m.Channel) {
		return bridge.TenantMetadata{}, errors.Wrapf(bridge.ErrValidation, "invalid channel %q", m.Channel)
	}

	meta := bridge.TenantMetadata{UUID: m.UUID, Credential: m.Token, ChannelRef: m.Channel}
	if s.pushEnabled() && m.HasPush() {
		meta.Push = &bridge.PushDescriptor{
			Subdomain:      m.Subdomain,
			InstancePushID: m.InstancePushID,
			AccessToken:    m.ZendeskAccessToken,
		}
	}
	return meta, meta.Validate()
}

func (s *Server) pushEnabled() bool {
	return s.cfg.Integration.PushClientID != ""
}

// fail maps the error taxonomy to a status code. Server errors hide details.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	s.logger.Warn("Request rejected", "path", c.FullPath(), "status", status, "error", err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrAuth):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

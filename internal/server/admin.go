package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

// adminRequest is what the ticketing admin UI posts when an account is added or edited.
type adminRequest struct {
	Name      string `form:"name"`
	Metadata  string `form:"metadata"`
	ReturnURL string `form:"return_url" binding:"required"`

	Subdomain          string `form:"subdomain"`
	InstancePushID     string `form:"instance_push_id"`
	ZendeskAccessToken string `form:"zendesk_access_token"`
}

// adminSave is the form the admin page posts back to us.
type adminSave struct {
	Name      string `form:"name" binding:"required"`
	UUID      string `form:"uuid"`
	Token     string `form:"token" binding:"required"`
	Channel   string `form:"channel" binding:"required"`
	ReturnURL string `form:"return_url" binding:"required"`

	Subdomain          string `form:"subdomain"`
	InstancePushID     string `form:"instance_push_id"`
	ZendeskAccessToken string `form:"zendesk_access_token"`
}

type adminPage struct {
	Error    string
	Name     string
	Metadata zendesk.Metadata
	Return   string
}

type adminReturn struct {
	ReturnURL string
	Name      string
	Metadata  string
}

var adminTemplates = template.Must(template.New("admin").Parse(`
{{define "admin.html"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Discord integration</title></head>
<body>
<h1>Discord forum integration</h1>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
<form method="post" action="admin/save">
  <input type="hidden" name="uuid" value="{{.Metadata.UUID}}">
  <input type="hidden" name="return_url" value="{{.Return}}">
  <input type="hidden" name="subdomain" value="{{.Metadata.Subdomain}}">
  <input type="hidden" name="instance_push_id" value="{{.Metadata.InstancePushID}}">
  <input type="hidden" name="zendesk_access_token" value="{{.Metadata.ZendeskAccessToken}}">
  <p><label>Account name <input name="name" value="{{.Name}}" required></label></p>
  <p><label>Bot token <input name="token" type="password" value="{{.Metadata.Token}}" required></label></p>
  <p><label>Forum channel id <input name="channel" value="{{.Metadata.Channel}}" pattern="[0-9]+" required></label></p>
  <p><button type="submit">Save</button></p>
</form>
</body></html>{{end}}
{{define "return.html"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Saving</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.ReturnURL}}">
  <input type="hidden" name="name" value="{{.Name}}">
  <input type="hidden" name="metadata" value="{{.Metadata}}">
  <noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>{{end}}
`))

// adminForm renders the account settings form, prefilled when editing.
func (s *Server) adminForm(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}

	page := adminPage{Name: req.Name, Return: req.ReturnURL}
	if req.Metadata != "" {
		m, err := zendesk.ParseMetadata(req.Metadata)
		if err != nil {
			c.String(http.StatusBadRequest, "Bad request")
			return
		}
		page.Metadata = m
	}
	// The push descriptor comes fresh from the admin request every time.
	page.Metadata.Subdomain = req.Subdomain
	page.Metadata.InstancePushID = req.InstancePushID
	page.Metadata.ZendeskAccessToken = req.ZendeskAccessToken

	c.HTML(http.StatusOK, "admin.html", page)
}

// adminSave builds the metadata blob and hands it back to the ticketing system.
func (s *Server) adminSave(c *gin.Context) {
	var req adminSave
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}

	meta := zendesk.Metadata{
		UUID:               req.UUID,
		Token:              req.Token,
		Channel:            req.Channel,
		Subdomain:          req.Subdomain,
		InstancePushID:     req.InstancePushID,
		ZendeskAccessToken: req.ZendeskAccessToken,
	}
	if meta.UUID == "" {
		meta.UUID = uuid.NewString()
	}

	returnURL, err := url.Parse(req.ReturnURL)
	if !bridge.ValidID(meta.Channel) || err != nil || returnURL.Scheme != "https" {
		c.HTML(http.StatusBadRequest, "admin.html", adminPage{
			Error:    "The forum channel id must be numeric and the return URL must use https.",
			Name:     req.Name,
			Metadata: meta,
			Return:   req.ReturnURL,
		})
		return
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}

	s.logger.InfoWithIntention(pkgLogger.IntentionConfig, "Account configured", "tenant", meta.UUID, "channel", meta.Channel)
	c.HTML(http.StatusOK, "return.html", adminReturn{
		ReturnURL: returnURL.String(),
		Name:      req.Name,
		Metadata:  string(raw),
	})
}

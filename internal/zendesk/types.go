// Package zendesk holds the Channel Framework wire types and the HTTP client
// for the push, validate_token and attachment endpoints.
package zendesk

import (
	"encoding/json"
	"strings"
	"time"
)

// ExternalResource is one event delivered to the Channel Framework.
// See https://developer.zendesk.com/documentation/channel_framework/understanding-the-channel-framework/pull_endpoint/
type ExternalResource struct {
	ExternalID       string    `json:"external_id"`
	ThreadID         string    `json:"thread_id,omitempty"`
	ParentID         string    `json:"parent_id,omitempty"`
	Author           Author    `json:"author"`
	CreatedAt        time.Time `json:"created_at"`
	Message          string    `json:"message"`
	InternalNote     bool      `json:"internal_note"`
	AllowChannelback bool      `json:"allow_channelback"`
	Fields           []Field   `json:"fields,omitempty"`
	FileURLs         []string  `json:"file_urls,omitempty"`
}

// Field returns the value of the field with the given id.
func (r ExternalResource) Field(id string) (any, bool) {
	for _, f := range r.Fields {
		if f.ID == id {
			return f.Value, true
		}
	}
	return nil, false
}

// Author identifies the external actor of a resource.
type Author struct {
	ExternalID string  `json:"external_id"`
	Name       string  `json:"name,omitempty"`
	ImageURL   string  `json:"image_url,omitempty"`
	Locale     string  `json:"locale,omitempty"`
	Fields     []Field `json:"fields"`
}

// Field is a key/value metadata entry. Well-known ids are "subject" and "tags".
type Field struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

const (
	FieldSubject = "subject"
	FieldTags    = "tags"
)

// Metadata is the per-integration JSON blob the admin UI stores and the
// Channel Framework echoes on pull and channelback.
type Metadata struct {
	UUID    string `json:"uuid"`
	Token   string `json:"token"`
	Channel string `json:"channel"`

	Subdomain          string `json:"subdomain,omitempty"`
	InstancePushID     string `json:"instance_push_id,omitempty"`
	ZendeskAccessToken string `json:"zendesk_access_token,omitempty"`
}

// ParseMetadata decodes the metadata string sent by the Channel Framework.
func ParseMetadata(raw string) (Metadata, error) {
	var m Metadata
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

// HasPush reports whether the metadata carries a complete push descriptor.
func (m Metadata) HasPush() bool {
	return m.Subdomain != "" && m.InstancePushID != "" && m.ZendeskAccessToken != ""
}

// PullResponse is the body returned from the pull endpoint.
type PullResponse struct {
	ExternalResources []ExternalResource `json:"external_resources"`
}

// ChannelbackResponse is the body returned from the channelback endpoint.
type ChannelbackResponse struct {
	ExternalID       string `json:"external_id"`
	AllowChannelback bool   `json:"allow_channelback"`
}

// Manifest describes the integration to the Channel Framework.
type Manifest struct {
	Name             string       `json:"name"`
	ID               string       `json:"id"`
	Author           string       `json:"author"`
	Version          string       `json:"version"`
	ChannelbackFiles bool         `json:"channelback_files"`
	PushClientID     string       `json:"push_client_id,omitempty"`
	URLs             ManifestURLs `json:"urls"`
}

// ManifestURLs lists the integration endpoints.
type ManifestURLs struct {
	AdminUI         string `json:"admin_ui"`
	PullURL         string `json:"pull_url"`
	ChannelbackURL  string `json:"channelback_url"`
	ClickthroughURL string `json:"clickthrough_url"`
}

// WebhookPayload is the body of a ticket status webhook. Tags may arrive as
// a JSON array or as a space separated string depending on the webhook template.
type WebhookPayload struct {
	Status string `json:"status"`
	Tags   Tags   `json:"tags"`
}

// Tags accepts either ["a","b"] or "a b".
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = strings.Fields(s)
	return nil
}

// ThreadTagPrefix marks the ticket tag that carries the originating thread id.
const ThreadTagPrefix = "do-not-remove-discord-"

// ThreadTag returns the sentinel tag for a thread.
func ThreadTag(threadID string) string {
	return ThreadTagPrefix + threadID
}

// ThreadID extracts the thread id from the sentinel tag, if present.
func (t Tags) ThreadID() (string, bool) {
	for _, tag := range t {
		if id, ok := strings.CutPrefix(tag, ThreadTagPrefix); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

package bridge

import "github.com/pkg/errors"

// PushDescriptor carries what is needed to push resources to the ticketing account.
type PushDescriptor struct {
	Subdomain      string
	InstancePushID string
	AccessToken    string
}

// TenantMetadata identifies and configures one bridge session.
type TenantMetadata struct {
	UUID       string          // stable tenant id
	Credential string          // chat bot token; determines the connection
	ChannelRef string          // forum channel events are scoped to
	Push       *PushDescriptor // nil when the tenant polls
}

// Validate rejects metadata that cannot identify a session.
func (m TenantMetadata) Validate() error {
	switch {
	case m.UUID == "":
		return errors.Wrap(ErrValidation, "metadata uuid is required")
	case m.Credential == "":
		return errors.Wrap(ErrValidation, "metadata token is required")
	case m.ChannelRef == "":
		return errors.Wrap(ErrValidation, "metadata channel is required")
	}
	return nil
}

// CanPush reports whether resources should be pushed instead of buffered.
func (m TenantMetadata) CanPush() bool {
	return m.Push != nil
}

// AccessToken returns the ticketing access token, if any.
func (m TenantMetadata) AccessToken() string {
	if m.Push == nil {
		return ""
	}
	return m.Push.AccessToken
}

// CollectionKey names the tenant's related-thread vector collection.
func (m TenantMetadata) CollectionKey() string {
	return m.UUID + "-" + m.ChannelRef
}

package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

const (
	buttonClose  = "close"
	buttonReopen = "reopen"

	relatedIntro = "These other threads might be useful to you:"
	// maxComponentRows is the platform limit of action rows per message.
	maxComponentRows = 5
)

// RelatedMatch is a previously indexed thread similar to a new one.
type RelatedMatch struct {
	ThreadID string
	Score    float32
}

// RelatedIndex finds earlier threads similar to a new one and indexes the new one.
type RelatedIndex interface {
	EnsureCollection(ctx context.Context, key string) error
	FindAndIndex(ctx context.Context, key, threadID, text string) ([]RelatedMatch, error)
}

// SessionOptions holds collaborators shared by every session.
type SessionOptions struct {
	Connect    Connector
	Translator *Translator
	Fetcher    AttachmentFetcher
	Related    RelatedIndex // optional

	Greeting       string   // posted in new threads; "{owner}" mentions the thread owner
	Links          []Button // link buttons shown next to close/reopen
	ResolveDelay   time.Duration
	ResolvedNotice string

	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())

	Logger *pkgLogger.Logger
}

// EmitFunc hands a resource to the delivery policy with the metadata current at emit time.
type EmitFunc func(meta TenantMetadata, r zendesk.ExternalResource)

// Session is one tenant's live bridge: a chat connection plus the tenant's
// current metadata. Event handlers always read metadata through the session,
// so configuration updates apply without reconnecting.
type Session struct {
	opts   SessionOptions
	chat   Chat
	emit   EmitFunc
	logger *pkgLogger.Logger

	mu        sync.RWMutex
	meta      TenantMetadata
	destroyed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession connects with meta.Credential and starts handling events.
func NewSession(ctx context.Context, meta TenantMetadata, opts SessionOptions, emit EmitFunc) (*Session, error) {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Logger == nil {
		opts.Logger = pkgLogger.Default
	}

	chat, err := opts.Connect(meta.Credential)
	if err != nil {
		return nil, chatError(err, "create chat connection")
	}

	s := &Session{
		opts:   opts,
		chat:   chat,
		emit:   emit,
		meta:   meta,
		logger: opts.Logger.WithComponent("session").WithTenant(meta.UUID),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	chat.Listen(s.handleEvent)
	if err := chat.Open(ctx); err != nil {
		s.cancel()
		_ = chat.Close()
		return nil, chatError(err, "open chat connection")
	}

	s.ensureCollection(ctx, meta)
	s.logger.InfoWithIntention(pkgLogger.IntentionSession, "Session connected", "channel", meta.ChannelRef, "push", meta.CanPush())
	return s, nil
}

// chatError keeps a rejected credential classified as ErrAuth; every other
// connection failure is ErrUpstream.
func chatError(err error, what string) error {
	if errors.Is(err, ErrAuth) {
		return errors.Wrap(err, what)
	}
	return errors.Wrapf(ErrUpstream, "%s: %v", what, err)
}

// Metadata returns the current tenant metadata.
func (s *Session) Metadata() TenantMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// BotUser returns the chat identity of the session.
func (s *Session) BotUser() User {
	return s.chat.BotUser()
}

// UpdateConfiguration replaces the stored metadata in place. The credential
// must be unchanged; rotating it requires a new session.
func (s *Session) UpdateConfiguration(ctx context.Context, meta TenantMetadata) error {
	s.mu.Lock()
	prev := s.meta
	if meta.Credential != prev.Credential {
		s.mu.Unlock()
		return errors.Wrap(ErrValidation, "credential changed; session must be recreated")
	}
	s.meta = meta
	s.mu.Unlock()

	if meta.CollectionKey() != prev.CollectionKey() {
		s.logger.InfoWithIntention(pkgLogger.IntentionConfig, "Forum channel changed", "from", prev.ChannelRef, "to", meta.ChannelRef)
		s.ensureCollection(ctx, meta)
	}
	return nil
}

// Channelback posts a reply into a thread and returns its external id.
func (s *Session) Channelback(ctx context.Context, req ChannelbackRequest) (string, error) {
	if err := s.alive(); err != nil {
		return "", err
	}
	meta := s.Metadata()
	return s.opts.Translator.Channelback(ctx, s.chat, s.opts.Fetcher, meta.ChannelRef, meta.AccessToken(), req)
}

// Clickthrough resolves an external id to a user-facing URL.
func (s *Session) Clickthrough(ctx context.Context, externalID string) (string, error) {
	if err := s.alive(); err != nil {
		return "", err
	}
	return s.opts.Translator.Clickthrough(ctx, s.chat, s.Metadata().ChannelRef, externalID)
}

// StatusChange applies a ticket status to the thread it came from. It
// reports false when the thread does not belong to this session's forum.
// A resolved status sends the notice and locks the thread after
// ResolveDelay, leaving time for a final reply to land first.
func (s *Session) StatusChange(ctx context.Context, threadID, status string) (bool, error) {
	if err := s.alive(); err != nil {
		return false, err
	}

	thread, err := resolveForumThread(ctx, s.chat, s.Metadata().ChannelRef, threadID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if IsResolvedStatus(status) {
		s.opts.AfterFunc(s.opts.ResolveDelay, func() { s.closeResolved(thread.ID) })
		return true, nil
	}

	if thread.Locked {
		if err := s.chat.SetLocked(ctx, thread.ID, false); err != nil {
			return true, errors.Wrapf(err, "unlock thread %s", thread.ID)
		}
		s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Thread reopened", "thread", thread.ID, "status", status)
	}
	return true, nil
}

func (s *Session) closeResolved(threadID string) {
	if s.alive() != nil {
		return
	}
	if s.opts.ResolvedNotice != "" {
		if _, err := s.chat.Send(s.ctx, threadID, OutgoingMessage{Content: s.opts.ResolvedNotice}); err != nil {
			s.logger.Warn("Failed to post resolved notice", "thread", threadID, "error", err)
		}
	}
	if err := s.chat.SetLocked(s.ctx, threadID, true); err != nil {
		s.logger.Error("Failed to lock resolved thread", "thread", threadID, "error", err)
		return
	}
	s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Thread resolved and locked", "thread", threadID)
}

// IsResolvedStatus reports whether a ticket status means the issue is resolved.
func IsResolvedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "solved", "closed", "resolved":
		return true
	}
	return false
}

// Destroy disconnects the session. It is idempotent.
func (s *Session) Destroy() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.destroyed = true
		s.mu.Unlock()

		s.cancel()
		if err := s.chat.Close(); err != nil {
			s.logger.Warn("Error closing chat connection", "error", err)
		}
		s.logger.InfoWithIntention(pkgLogger.IntentionSession, "Session destroyed")
	})
}

func (s *Session) alive() error {
	if s.ctx.Err() != nil {
		return ErrDestroyed
	}
	return nil
}

// deliver emits r unless the session was destroyed while r was being
// translated. The read lock keeps Destroy from completing mid-emit, so the
// registry's buffer discard after Destroy sees every accepted resource.
func (s *Session) deliver(r zendesk.ExternalResource) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		s.logger.Warn("Dropping resource of destroyed session", "tenant", s.meta.UUID, "external_id", r.ExternalID)
		return
	}
	s.emit(s.meta, r)
}

func (s *Session) ensureCollection(ctx context.Context, meta TenantMetadata) {
	if s.opts.Related == nil {
		return
	}
	if err := s.opts.Related.EnsureCollection(ctx, meta.CollectionKey()); err != nil {
		s.logger.Warn("Failed to ensure related-thread collection", "collection", meta.CollectionKey(), "error", err)
	}
}

func (s *Session) handleEvent(ev Event) {
	if s.alive() != nil {
		return
	}

	switch e := ev.(type) {
	case ThreadCreated:
		s.onThreadCreated(e)
	case MessageCreated:
		s.onMessageCreated(e)
	case ThreadDeleted:
		s.onThreadDeleted(e)
	case ButtonPressed:
		s.onButtonPressed(e)
	default:
		s.logger.Debug("Ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) onThreadCreated(e ThreadCreated) {
	thread := e.Thread
	if thread == nil || thread.ParentID != s.Metadata().ChannelRef {
		return
	}

	s.greet(thread)

	r, err := s.opts.Translator.FromThread(s.ctx, s.chat, s.Metadata().ChannelRef, thread)
	if err != nil {
		s.logger.Error("Dropping thread event", "thread", thread.ID, "error", err)
		return
	}
	if r == nil {
		return
	}
	s.deliver(*r)

	s.suggestRelated(thread, r.Message)
}

func (s *Session) onMessageCreated(e MessageCreated) {
	if e.Message == nil {
		return
	}
	r, err := s.opts.Translator.FromMessage(s.ctx, s.chat, s.Metadata().ChannelRef, s.chat.BotUser(), e.Message)
	if err != nil {
		s.logger.Error("Dropping message event", "message", e.Message.ID, "error", err)
		return
	}
	if r == nil {
		return
	}
	s.deliver(*r)
}

func (s *Session) onThreadDeleted(e ThreadDeleted) {
	r := s.opts.Translator.FromThreadDeleted(s.Metadata().ChannelRef, s.chat.BotUser(), e)
	if r == nil {
		return
	}
	s.deliver(*r)
}

func (s *Session) onButtonPressed(e ButtonPressed) {
	var err error
	switch e.CustomID {
	case buttonClose:
		if err = e.Respond(s.actionRows(buttonReopen)); err == nil {
			err = s.chat.SetArchived(s.ctx, e.ChannelID, true)
		}
	case buttonReopen:
		if err = s.chat.SetArchived(s.ctx, e.ChannelID, false); err == nil {
			err = e.Respond(s.actionRows(buttonClose))
		}
	default:
		return
	}
	if err != nil {
		s.logger.Warn("Failed to handle button", "button", e.CustomID, "thread", e.ChannelID, "error", err)
	}
}

// greet posts the greeting with the close button and configured links.
func (s *Session) greet(thread *Channel) {
	if s.opts.Greeting == "" {
		return
	}
	content := strings.ReplaceAll(s.opts.Greeting, "{owner}", "<@"+thread.OwnerID+">")
	if _, err := s.chat.Send(s.ctx, thread.ID, OutgoingMessage{Content: content, Rows: s.actionRows(buttonClose)}); err != nil {
		s.logger.Warn("Failed to post greeting", "thread", thread.ID, "error", err)
	}
}

func (s *Session) actionRows(toggle string) [][]Button {
	row := make([]Button, 0, 1+len(s.opts.Links))
	if toggle == buttonClose {
		row = append(row, Button{Label: "Close", Emoji: "🔒", Style: ButtonDanger, CustomID: buttonClose})
	} else {
		row = append(row, Button{Label: "Reopen", Emoji: "🔓", Style: ButtonPrimary, CustomID: buttonReopen})
	}
	row = append(row, s.opts.Links...)
	return [][]Button{row}
}

// suggestRelated posts links to similar earlier threads and indexes this one.
func (s *Session) suggestRelated(thread *Channel, body string) {
	if s.opts.Related == nil {
		return
	}

	text := "# " + thread.Name + "\n\n" + body
	matches, err := s.opts.Related.FindAndIndex(s.ctx, s.Metadata().CollectionKey(), thread.ID, text)
	if err != nil {
		s.logger.Warn("Related-thread lookup failed", "thread", thread.ID, "error", err)
		return
	}

	var rows [][]Button
	for _, m := range matches {
		if m.ThreadID == thread.ID || len(rows) == maxComponentRows {
			continue
		}
		related, err := s.chat.Channel(s.ctx, m.ThreadID)
		if err != nil {
			continue
		}
		rows = append(rows, []Button{{
			Label: fmt.Sprintf("%s (%.2f%% match)", related.Name, m.Score*100),
			Style: ButtonLink,
			URL:   related.URL(),
		}})
	}
	if len(rows) == 0 {
		return
	}

	if _, err := s.chat.Send(s.ctx, thread.ID, OutgoingMessage{Content: relatedIntro, Rows: rows}); err != nil {
		s.logger.Warn("Failed to post related threads", "thread", thread.ID, "error", err)
	}
}

// Package discord implements bridge.Chat on top of a discordgo bot session.
package discord

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

const (
	// maxMessageLen is Discord's limit on message content.
	maxMessageLen = 2000
	readyTimeout  = 15 * time.Second
	avatarSize    = "128"

	// closeAuthenticationFailed is the gateway close code for an invalid token.
	closeAuthenticationFailed = 4004
)

// Chat is a Discord bot connection for one credential.
type Chat struct {
	session *discordgo.Session
	logger  *pkgLogger.Logger

	mu       sync.RWMutex
	bot      bridge.User
	listener func(bridge.Event)

	ready     chan struct{}
	readyOnce sync.Once
}

// NewConnector returns a bridge.Connector that builds Discord chats.
func NewConnector(logger *pkgLogger.Logger) bridge.Connector {
	return func(credential string) (bridge.Chat, error) {
		return New(credential, logger)
	}
}

// New creates an unopened chat for a bot token.
func New(token string, logger *pkgLogger.Logger) (*Chat, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	c := &Chat{
		session: dg,
		logger:  logger.WithComponent("discord"),
		ready:   make(chan struct{}),
	}

	dg.AddHandler(c.handleReady)
	dg.AddHandler(c.handleThreadCreate)
	dg.AddHandler(c.handleThreadDelete)
	dg.AddHandler(c.handleMessage)
	dg.AddHandler(c.handleInteraction)

	return c, nil
}

// Open connects the gateway and waits for the ready event.
func (c *Chat) Open(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return wrapOpen(err)
	}

	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()
	select {
	case <-c.ready:
	case <-timer.C:
		c.logger.Warn("Discord ready event not received in time")
	case <-ctx.Done():
		_ = c.session.Close()
		return ctx.Err()
	}
	return nil
}

// Close disconnects the gateway.
func (c *Chat) Close() error {
	return c.session.Close()
}

// BotUser returns the bot's identity once connected.
func (c *Chat) BotUser() bridge.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot
}

// Listen sets the event listener.
func (c *Chat) Listen(fn func(bridge.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

func (c *Chat) dispatch(ev bridge.Event) {
	c.mu.RLock()
	fn := c.listener
	c.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Chat) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	c.bot = toUser(r.User)
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.InfoWithIntention(pkgLogger.IntentionSession, "Discord bot connected", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (c *Chat) handleThreadCreate(s *discordgo.Session, t *discordgo.ThreadCreate) {
	// Also fired when the bot is added to an existing thread.
	if t.Channel == nil || !t.NewlyCreated {
		return
	}
	c.dispatch(bridge.ThreadCreated{Thread: toChannel(t.Channel)})
}

func (c *Chat) handleThreadDelete(s *discordgo.Session, t *discordgo.ThreadDelete) {
	if t.Channel == nil {
		return
	}
	c.dispatch(bridge.ThreadDeleted{ThreadID: t.ID, ParentID: t.ParentID, GuildID: t.GuildID})
}

func (c *Chat) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	c.dispatch(bridge.MessageCreated{Message: toMessage(m.Message)})
}

func (c *Chat) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	c.dispatch(bridge.ButtonPressed{
		CustomID:  data.CustomID,
		ChannelID: i.ChannelID,
		Respond: func(rows [][]bridge.Button) error {
			err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseUpdateMessage,
				Data: &discordgo.InteractionResponseData{Components: toComponents(rows)},
			})
			return wrapREST(err, "respond to interaction")
		},
	})
}

// Channel returns a channel or thread, from the gateway state when cached.
func (c *Chat) Channel(ctx context.Context, id string) (*bridge.Channel, error) {
	if c.session.StateEnabled && c.session.State != nil {
		if ch, err := c.session.State.Channel(id); err == nil {
			return toChannel(ch), nil
		}
	}

	ch, err := c.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapREST(err, "channel "+id)
	}
	return toChannel(ch), nil
}

// Message fetches a message.
func (c *Chat) Message(ctx context.Context, channelID, messageID string) (*bridge.Message, error) {
	m, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapREST(err, "message "+messageID)
	}
	return toMessage(m), nil
}

// StarterMessage fetches the first message of a forum thread, which shares the thread's id.
func (c *Chat) StarterMessage(ctx context.Context, threadID string) (*bridge.Message, error) {
	return c.Message(ctx, threadID, threadID)
}

// Send posts a message, splitting content over Discord's length limit.
// Files and components ride on the last chunk; the first chunk is returned.
func (c *Chat) Send(ctx context.Context, channelID string, msg bridge.OutgoingMessage) (*bridge.Message, error) {
	chunks := splitMessage(msg.Content, maxMessageLen)

	var first *bridge.Message
	for i, chunk := range chunks {
		data := &discordgo.MessageSend{Content: chunk}
		if i == len(chunks)-1 {
			data.Components = toComponents(msg.Rows)
			for _, f := range msg.Files {
				data.Files = append(data.Files, &discordgo.File{
					Name:   f.Name,
					Reader: bytes.NewReader(f.Data),
				})
			}
		}

		m, err := c.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrapREST(err, "send to channel "+channelID)
		}
		if first == nil {
			first = toMessage(m)
		}
	}
	return first, nil
}

// SetLocked locks or unlocks a thread.
func (c *Chat) SetLocked(ctx context.Context, threadID string, locked bool) error {
	_, err := c.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Locked: &locked}, discordgo.WithContext(ctx))
	return wrapREST(err, "lock thread "+threadID)
}

// SetArchived archives or unarchives a thread.
func (c *Chat) SetArchived(ctx context.Context, threadID string, archived bool) error {
	_, err := c.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx))
	return wrapREST(err, "archive thread "+threadID)
}

// wrapOpen classifies a failed gateway connect. A token the gateway or the
// API rejects is bridge.ErrAuth.
func wrapOpen(err error) error {
	var closed *websocket.CloseError
	if errors.As(err, &closed) && closed.Code == closeAuthenticationFailed {
		return errors.Wrapf(bridge.ErrAuth, "discord rejected the bot token: %v", err)
	}
	return wrapREST(err, "failed to open discord connection")
}

// wrapREST maps missing or inaccessible resources to bridge.ErrNotFound and
// a rejected token to bridge.ErrAuth.
func wrapREST(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return errors.Wrapf(bridge.ErrAuth, "%s: %v", what, err)
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusUnauthorized:
			return errors.Wrapf(bridge.ErrAuth, "%s: %v", what, err)
		case http.StatusNotFound, http.StatusForbidden:
			return errors.Wrapf(bridge.ErrNotFound, "%s: %v", what, err)
		}
	}
	return errors.Wrap(err, what)
}

func toUser(u *discordgo.User) bridge.User {
	if u == nil {
		return bridge.User{}
	}
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return bridge.User{
		ID:        u.ID,
		Name:      name,
		AvatarURL: u.AvatarURL(avatarSize),
		Bot:       u.Bot,
	}
}

func toChannel(ch *discordgo.Channel) *bridge.Channel {
	out := &bridge.Channel{
		ID:          ch.ID,
		GuildID:     ch.GuildID,
		ParentID:    ch.ParentID,
		OwnerID:     ch.OwnerID,
		Name:        ch.Name,
		Kind:        channelKind(ch.Type),
		AppliedTags: ch.AppliedTags,
	}
	if created, err := discordgo.SnowflakeTimestamp(ch.ID); err == nil {
		out.CreatedAt = created
	}
	if ch.ThreadMetadata != nil {
		out.Locked = ch.ThreadMetadata.Locked
		out.Archived = ch.ThreadMetadata.Archived
	}
	for _, t := range ch.AvailableTags {
		out.AvailableTags = append(out.AvailableTags, bridge.Tag{ID: t.ID, Name: t.Name})
	}
	return out
}

func channelKind(t discordgo.ChannelType) bridge.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildForum:
		return bridge.KindForum
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return bridge.KindThread
	case discordgo.ChannelTypeGuildText:
		return bridge.KindText
	default:
		return bridge.KindOther
	}
}

func toMessage(m *discordgo.Message) *bridge.Message {
	out := &bridge.Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		Author:      toUser(m.Author),
		Content:     m.Content,
		StarterEcho: m.Type == discordgo.MessageTypeThreadStarterMessage,
		CreatedAt:   m.Timestamp,
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, bridge.Attachment{URL: a.URL, Filename: a.Filename})
	}
	return out
}

func toComponents(rows [][]bridge.Button) []discordgo.MessageComponent {
	if len(rows) == 0 {
		return nil
	}
	comps := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			btn := discordgo.Button{Label: b.Label, Style: buttonStyle(b.Style)}
			if b.Emoji != "" {
				btn.Emoji = &discordgo.ComponentEmoji{Name: b.Emoji}
			}
			if b.Style == bridge.ButtonLink {
				btn.URL = b.URL
			} else {
				btn.CustomID = b.CustomID
			}
			buttons = append(buttons, btn)
		}
		comps = append(comps, discordgo.ActionsRow{Components: buttons})
	}
	return comps
}

func buttonStyle(s bridge.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case bridge.ButtonDanger:
		return discordgo.DangerButton
	case bridge.ButtonLink:
		return discordgo.LinkButton
	default:
		return discordgo.PrimaryButton
	}
}

// splitMessage splits text into chunks at newline boundaries, respecting maxLen.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Find last newline within limit
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > 0 {
			cutAt = idx + 1
		} else {
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				_, cutAt = utf8.DecodeRuneInString(text)
			}
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

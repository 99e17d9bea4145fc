package bridge

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
)

const (
	deletedSuffix = "-delete"
	deletedBody   = "Thread deleted."
	authorLocale  = "en"
)

// AttachmentProxy rewrites a chat attachment URL into a locally proxied one.
type AttachmentProxy interface {
	ProxyURL(remote string) string
}

// AttachmentFetcher downloads a channelback file from the ticketing system.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, url, accessToken string) ([]byte, error)
}

// ChannelbackRequest asks for a reply to be posted into a thread.
type ChannelbackRequest struct {
	Message  string
	ThreadID string
	FileURLs []string
}

// TranslatorConfig controls resource rendering.
type TranslatorConfig struct {
	Placeholder string // substituted for empty message bodies
	TagThreads  bool   // add the tags field to thread resources
}

// Translator maps chat events to external resources and channelback
// requests to chat messages.
type Translator struct {
	cfg   TranslatorConfig
	proxy AttachmentProxy
	now   func() time.Time
}

// NewTranslator creates a translator. proxy may be nil, in which case
// attachment URLs are passed through unchanged.
func NewTranslator(cfg TranslatorConfig, proxy AttachmentProxy) *Translator {
	if cfg.Placeholder == "" {
		cfg.Placeholder = "*No message content*"
	}
	return &Translator{cfg: cfg, proxy: proxy, now: time.Now}
}

// FromThread builds the resource for a newly created thread. It returns nil
// for threads outside channelRef.
func (t *Translator) FromThread(ctx context.Context, chat Chat, channelRef string, thread *Channel) (*zendesk.ExternalResource, error) {
	if !thread.IsThread() || thread.ParentID != channelRef {
		return nil, nil
	}

	starter, err := chat.StarterMessage(ctx, thread.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "starter message of thread %s", thread.ID)
	}
	if starter == nil {
		return nil, errors.Wrapf(ErrNotFound, "thread %s has no starter message", thread.ID)
	}

	fields := []zendesk.Field{{ID: zendesk.FieldSubject, Value: thread.Name}}
	if t.cfg.TagThreads {
		fields = append(fields, zendesk.Field{ID: zendesk.FieldTags, Value: t.threadTags(ctx, chat, thread)})
	}

	return &zendesk.ExternalResource{
		ExternalID:       EncodeThread(thread.ID),
		Author:           t.author(starter.Author),
		CreatedAt:        t.timestamp(thread.CreatedAt, starter.CreatedAt),
		Message:          t.body(starter.Content),
		InternalNote:     false,
		AllowChannelback: true,
		Fields:           fields,
		FileURLs:         t.fileURLs(starter.Attachments),
	}, nil
}

// threadTags returns the sentinel tag followed by the thread's forum tags,
// with spaces replaced by underscores. Tag names that cannot be resolved are skipped.
func (t *Translator) threadTags(ctx context.Context, chat Chat, thread *Channel) []string {
	tags := []string{zendesk.ThreadTag(thread.ID)}
	if len(thread.AppliedTags) == 0 {
		return tags
	}

	forum, err := chat.Channel(ctx, thread.ParentID)
	if err != nil {
		return tags
	}
	for _, id := range thread.AppliedTags {
		if name, ok := forum.TagName(id); ok {
			tags = append(tags, strings.ReplaceAll(name, " ", "_"))
		}
	}
	return tags
}

// FromMessage builds the resource for a message posted in a thread. It
// returns nil when the message must not be forwarded: posted by the bot,
// outside a thread, the thread starter, or in a thread outside channelRef.
func (t *Translator) FromMessage(ctx context.Context, chat Chat, channelRef string, bot User, msg *Message) (*zendesk.ExternalResource, error) {
	if msg.Author.ID == bot.ID {
		return nil, nil
	}

	channel, err := chat.Channel(ctx, msg.ChannelID)
	if err != nil {
		return nil, errors.Wrapf(err, "channel of message %s", msg.ID)
	}
	if !channel.IsThread() || msg.StarterEcho || channel.ParentID != channelRef {
		return nil, nil
	}

	// The starter echo is not always typed as such.
	starter, err := chat.StarterMessage(ctx, channel.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, errors.Wrapf(err, "starter message of thread %s", channel.ID)
	case starter != nil && starter.ID == msg.ID:
		return nil, nil
	}

	return &zendesk.ExternalResource{
		ExternalID:       EncodeMessage(channel.ID, msg.ID),
		ThreadID:         EncodeThread(channel.ID),
		Author:           t.author(msg.Author),
		CreatedAt:        t.timestamp(msg.CreatedAt),
		Message:          t.body(msg.Content),
		InternalNote:     false,
		AllowChannelback: true,
		FileURLs:         t.fileURLs(msg.Attachments),
	}, nil
}

// FromThreadDeleted builds the synthetic deletion notice for a thread.
func (t *Translator) FromThreadDeleted(channelRef string, bot User, ev ThreadDeleted) *zendesk.ExternalResource {
	if ev.ParentID != channelRef {
		return nil
	}
	return &zendesk.ExternalResource{
		ExternalID:       EncodeThread(ev.ThreadID) + deletedSuffix,
		ThreadID:         EncodeThread(ev.ThreadID),
		Author:           t.author(bot),
		CreatedAt:        t.now().UTC(),
		Message:          deletedBody,
		InternalNote:     false,
		AllowChannelback: false,
	}
}

// Channelback posts a reply into a thread of the forum and returns the
// external id of the new message. Files are fetched with accessToken.
func (t *Translator) Channelback(ctx context.Context, chat Chat, fetcher AttachmentFetcher, channelRef, accessToken string, req ChannelbackRequest) (string, error) {
	thread, err := resolveForumThread(ctx, chat, channelRef, req.ThreadID)
	if err != nil {
		return "", err
	}

	files := make([]File, len(req.FileURLs))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range req.FileURLs {
		g.Go(func() error {
			data, err := fetcher.FetchAttachment(gctx, url, accessToken)
			if err != nil {
				return errors.Wrapf(ErrUpstream, "fetch %s: %v", url, err)
			}
			files[i] = File{Name: fileName(url), Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	msg, err := chat.Send(ctx, thread.ID, OutgoingMessage{Content: req.Message, Files: files})
	if err != nil {
		return "", errors.Wrapf(err, "send to thread %s", thread.ID)
	}
	return EncodeMessage(thread.ID, msg.ID), nil
}

// Clickthrough resolves an external id to the URL of its thread or message.
func (t *Translator) Clickthrough(ctx context.Context, chat Chat, channelRef, externalID string) (string, error) {
	addr := Decode(externalID)

	thread, err := resolveForumThread(ctx, chat, channelRef, addr.ThreadID)
	if err != nil {
		return "", err
	}
	if addr.IsThread() {
		return thread.URL(), nil
	}

	msg, err := chat.Message(ctx, thread.ID, addr.MessageID)
	if err != nil {
		return "", errors.Wrapf(err, "message %s", addr.MessageID)
	}
	if msg.GuildID == "" {
		msg.GuildID = thread.GuildID
	}
	return msg.URL(), nil
}

// resolveForumThread returns threadID if it is a thread of the forum channelRef.
func resolveForumThread(ctx context.Context, chat Chat, channelRef, threadID string) (*Channel, error) {
	forum, err := chat.Channel(ctx, channelRef)
	if err != nil {
		return nil, errors.Wrapf(err, "forum %s", channelRef)
	}
	if forum.Kind != KindForum {
		return nil, errors.Wrapf(ErrNotFound, "channel %s is not a forum", channelRef)
	}

	thread, err := chat.Channel(ctx, threadID)
	if err != nil {
		return nil, errors.Wrapf(err, "thread %s", threadID)
	}
	if !thread.IsThread() || thread.ParentID != forum.ID {
		return nil, errors.Wrapf(ErrNotFound, "thread %s is not in forum %s", threadID, channelRef)
	}
	return thread, nil
}

func (t *Translator) author(u User) zendesk.Author {
	return zendesk.Author{
		ExternalID: u.ID,
		Name:       u.Name,
		ImageURL:   u.AvatarURL,
		Locale:     authorLocale,
		Fields:     []zendesk.Field{},
	}
}

func (t *Translator) body(content string) string {
	if strings.TrimSpace(content) == "" {
		return t.cfg.Placeholder
	}
	return content
}

// timestamp returns the first non-zero candidate in UTC, or now.
func (t *Translator) timestamp(candidates ...time.Time) time.Time {
	for _, c := range candidates {
		if !c.IsZero() {
			return c.UTC()
		}
	}
	return t.now().UTC()
}

func (t *Translator) fileURLs(attachments []Attachment) []string {
	if len(attachments) == 0 {
		return nil
	}
	urls := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if t.proxy == nil {
			urls = append(urls, a.URL)
			continue
		}
		urls = append(urls, t.proxy.ProxyURL(a.URL))
	}
	return urls
}

// fileName returns the basename of a URL's path, ignoring any query.
func fileName(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}

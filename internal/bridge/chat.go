package bridge

import (
	"context"
	"fmt"
	"time"
)

// ChannelKind distinguishes the chat channels the bridge cares about.
type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindText
	KindForum
	KindThread
)

// User is a chat account.
type User struct {
	ID        string
	Name      string
	AvatarURL string
	Bot       bool
}

// Tag is a forum tag.
type Tag struct {
	ID   string
	Name string
}

// Channel is a forum, thread or other chat channel.
type Channel struct {
	ID        string
	GuildID   string
	ParentID  string
	OwnerID   string
	Name      string
	Kind      ChannelKind
	Locked    bool
	Archived  bool
	CreatedAt time.Time

	AppliedTags   []string // thread: ids of the forum tags applied to it
	AvailableTags []Tag    // forum: tags threads can carry
}

// IsThread reports whether the channel is a thread.
func (c *Channel) IsThread() bool {
	return c.Kind == KindThread
}

// URL returns the canonical link to the channel.
func (c *Channel) URL() string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s", c.GuildID, c.ID)
}

// TagName resolves a forum tag id to its name.
func (c *Channel) TagName(id string) (string, bool) {
	for _, t := range c.AvailableTags {
		if t.ID == id {
			return t.Name, true
		}
	}
	return "", false
}

// Attachment is a file attached to a chat message.
type Attachment struct {
	URL      string
	Filename string
}

// Message is a chat message.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	Author      User
	Content     string
	StarterEcho bool // typed as the thread-starter echo by the platform
	Attachments []Attachment
	CreatedAt   time.Time
}

// URL returns the canonical link to the message.
func (m *Message) URL() string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", m.GuildID, m.ChannelID, m.ID)
}

// File is an attachment uploaded with an outgoing message.
type File struct {
	Name string
	Data []byte
}

// ButtonStyle selects the rendering of a button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonDanger
	ButtonLink
)

// Button is a message component. Link buttons carry URL; others carry CustomID.
type Button struct {
	Label    string
	Emoji    string
	Style    ButtonStyle
	CustomID string
	URL      string
}

// OutgoingMessage is a message the bridge posts.
type OutgoingMessage struct {
	Content string
	Files   []File
	Rows    [][]Button
}

// Chat is a live connection to the chat platform for one bot credential.
type Chat interface {
	// Open connects and starts delivering events to the listener.
	Open(ctx context.Context) error
	// Close disconnects. Safe to call more than once.
	Close() error
	// BotUser returns the identity of the connected bot.
	BotUser() User
	// Listen sets the function events are delivered to. Must be called before Open.
	Listen(fn func(Event))

	Channel(ctx context.Context, id string) (*Channel, error)
	Message(ctx context.Context, channelID, messageID string) (*Message, error)
	StarterMessage(ctx context.Context, threadID string) (*Message, error)
	Send(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error)
	SetLocked(ctx context.Context, threadID string, locked bool) error
	SetArchived(ctx context.Context, threadID string, archived bool) error
}

// Connector opens a Chat for a credential without connecting it.
type Connector func(credential string) (Chat, error)

// Event is a chat-side event delivered to a session.
type Event interface {
	isEvent()
}

// ThreadCreated fires when a thread is created.
type ThreadCreated struct {
	Thread *Channel
}

// MessageCreated fires for every new message the bot can see.
type MessageCreated struct {
	Message *Message
}

// ThreadDeleted fires when a thread is deleted.
type ThreadDeleted struct {
	ThreadID string
	ParentID string
	GuildID  string
}

// ButtonPressed fires when a user presses a non-link button.
// Respond replaces the components of the message carrying the button.
type ButtonPressed struct {
	CustomID  string
	ChannelID string
	Respond   func(rows [][]Button) error
}

func (ThreadCreated) isEvent()  {}
func (MessageCreated) isEvent() {}
func (ThreadDeleted) isEvent()  {}
func (ButtonPressed) isEvent()  {}

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

// fakeChat is an in-memory Chat. Starter messages share their thread's id.
type fakeChat struct {
	mu       sync.Mutex
	bot      User
	channels map[string]*Channel
	messages map[string]*Message // "channel/message"
	listener func(Event)

	opened       bool
	closed       bool
	openErr      error
	channelCalls int
	nextID       int
	nextMsgID    string        // id for the next sent message, when set
	starterGate  chan struct{} // when non-nil, StarterMessage signals starterWait and blocks until closed
	starterWait  chan struct{}
	actions      []string // "send:T1", "lock:T1", "unlock:T1", "archive:T1", "unarchive:T1"
	sent         []OutgoingMessage
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		bot:      User{ID: "BOT", Name: "bridge-bot", Bot: true},
		channels: make(map[string]*Channel),
		messages: make(map[string]*Message),
	}
}

// newForumChat returns a chat with guild G1, forum F1 and thread T1 whose
// starter message says "Help, it's broken".
func newForumChat() *fakeChat {
	fc := newFakeChat()
	fc.addChannel(&Channel{
		ID: "F1", GuildID: "G1", Name: "support", Kind: KindForum,
		AvailableTags: []Tag{{ID: "tag1", Name: "needs help"}, {ID: "tag2", Name: "bug"}},
	})
	fc.addChannel(&Channel{
		ID: "T1", GuildID: "G1", ParentID: "F1", OwnerID: "U1", Name: "It is broken", Kind: KindThread,
		AppliedTags: []string{"tag1", "unknown"},
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	fc.addMessage(&Message{
		ID: "T1", ChannelID: "T1", GuildID: "G1",
		Author:  User{ID: "U1", Name: "alice", AvatarURL: "https://cdn.example.com/a.png"},
		Content: "Help, it's broken",
		Attachments: []Attachment{
			{URL: "https://cdn.example.com/1/log.txt", Filename: "log.txt"},
			{URL: "https://cdn.example.com/2/shot.png", Filename: "shot.png"},
		},
	})
	return fc
}

func (f *fakeChat) addChannel(c *Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
}

func (f *fakeChat) addMessage(m *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ChannelID+"/"+m.ID] = m
}

func (f *fakeChat) fire(ev Event) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	fn(ev)
}

func (f *fakeChat) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeChat) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChat) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChat) BotUser() User { return f.bot }

func (f *fakeChat) Listen(fn func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = fn
}

func (f *fakeChat) Channel(ctx context.Context, id string) (*Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	if f.closed {
		return nil, errors.New("connection closed")
	}
	c, ok := f.channels[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "channel %s", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChat) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[channelID+"/"+messageID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "message %s", messageID)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeChat) StarterMessage(ctx context.Context, threadID string) (*Message, error) {
	if f.starterGate != nil {
		f.starterWait <- struct{}{}
		<-f.starterGate
	}
	return f.Message(ctx, threadID, threadID)
}

func (f *fakeChat) Send(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("connection closed")
	}
	c, ok := f.channels[channelID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "channel %s", channelID)
	}

	id := f.nextMsgID
	f.nextMsgID = ""
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("S%d", f.nextID)
	}
	m := &Message{ID: id, ChannelID: channelID, GuildID: c.GuildID, Author: f.bot, Content: msg.Content}
	f.messages[channelID+"/"+id] = m
	f.sent = append(f.sent, msg)
	f.actions = append(f.actions, "send:"+channelID)
	return m, nil
}

func (f *fakeChat) SetLocked(ctx context.Context, threadID string, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[threadID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	c.Locked = locked
	if locked {
		f.actions = append(f.actions, "lock:"+threadID)
	} else {
		f.actions = append(f.actions, "unlock:"+threadID)
	}
	return nil
}

func (f *fakeChat) SetArchived(ctx context.Context, threadID string, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[threadID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	c.Archived = archived
	if archived {
		f.actions = append(f.actions, "archive:"+threadID)
	} else {
		f.actions = append(f.actions, "unarchive:"+threadID)
	}
	return nil
}

func (f *fakeChat) actionLog() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.actions, ",")
}

func (f *fakeChat) sentMessages() []OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutgoingMessage(nil), f.sent...)
}

// fakeConnector hands out chats built by build and counts connections.
type fakeConnector struct {
	mu    sync.Mutex
	build func(credential string) *fakeChat
	chats []*fakeChat
	gate  chan struct{} // when non-nil, Connect blocks until it is closed
}

func (c *fakeConnector) Connect(credential string) (Chat, error) {
	if c.gate != nil {
		<-c.gate
	}
	fc := c.build(credential)
	c.mu.Lock()
	c.chats = append(c.chats, fc)
	c.mu.Unlock()
	return fc, nil
}

func (c *fakeConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chats)
}

func (c *fakeConnector) chat(i int) *fakeChat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chats[i]
}

// fakeProxy prefixes attachment URLs.
type fakeProxy struct{}

func (fakeProxy) ProxyURL(remote string) string {
	return "https://bridge.example.com/attachment/" + remote
}

// fakeFetcher serves channelback files from memory.
type fakeFetcher struct {
	files map[string][]byte
	token string
}

func (f *fakeFetcher) FetchAttachment(ctx context.Context, url, accessToken string) ([]byte, error) {
	f.token = accessToken
	data, ok := f.files[url]
	if !ok {
		return nil, errors.Errorf("no file at %s", url)
	}
	return data, nil
}

// fakePusher records pushed resources.
type fakePusher struct {
	mu    sync.Mutex
	calls [][]zendesk.ExternalResource
	err   error
}

func (p *fakePusher) Push(ctx context.Context, subdomain, instancePushID, accessToken string, resources []zendesk.ExternalResource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, resources)
	return p.err
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// scheduled captures AfterFunc calls so tests decide when they run.
type scheduled struct {
	mu    sync.Mutex
	delay []time.Duration
	fns   []func()
}

func (s *scheduled) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = append(s.delay, d)
	s.fns = append(s.fns, f)
}

func (s *scheduled) runAll() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

func testLogger() *pkgLogger.Logger {
	return pkgLogger.NewDiscardLogger()
}

func testMeta(uuid, credential string) TenantMetadata {
	return TenantMetadata{UUID: uuid, Credential: credential, ChannelRef: "F1"}
}

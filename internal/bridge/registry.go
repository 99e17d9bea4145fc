package bridge

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

// TokenValidator checks a push access token with the ticketing system.
type TokenValidator interface {
	ValidateToken(ctx context.Context, subdomain, instancePushID, accessToken string) (bool, error)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Session   SessionOptions
	Delivery  *Delivery
	Validator TokenValidator // optional; nil accepts every push token
	BufferCap int
	Metrics   *Metrics
	Logger    *pkgLogger.Logger
}

// entry is a registry slot. It is inserted before the session connects so
// concurrent first registrations for a tenant wait on ready instead of
// connecting twice.
type entry struct {
	credential string
	buffer     *Buffer
	ready      chan struct{}
	session    *Session // set before ready is closed, nil if err
	err        error
}

// Registry maps tenant ids to bridge sessions.
type Registry struct {
	opts    RegistryOptions
	metrics *Metrics
	logger  *pkgLogger.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	order     []string          // tenant ids in registration order
	validated map[string]string // tenant id -> push token accepted by the validator
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = pkgLogger.Default
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Delivery == nil {
		opts.Delivery = NewDelivery(nil, 0, opts.Metrics, opts.Logger)
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}
	return &Registry{
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithComponent("registry"),
		entries:   make(map[string]*entry),
		validated: make(map[string]string),
	}
}

// ResolveOrCreate returns the session for meta.UUID. A missing session is
// created with a fresh buffer. A session with a different credential is
// destroyed, its buffer discarded, and a new one created. A session with
// the same credential gets its configuration updated.
func (r *Registry) ResolveOrCreate(ctx context.Context, meta TenantMetadata) (*Session, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkPush(ctx, meta); err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		e, ok := r.entries[meta.UUID]
		if !ok {
			e = &entry{
				credential: meta.Credential,
				buffer:     NewBuffer(r.opts.BufferCap),
				ready:      make(chan struct{}),
			}
			r.entries[meta.UUID] = e
			r.order = append(r.order, meta.UUID)
			r.mu.Unlock()
			return r.create(ctx, meta, e)
		}
		r.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if e.err != nil {
			// The creator removed the failed slot; try again.
			continue
		}
		if e.credential != meta.Credential {
			r.logger.InfoWithIntention(pkgLogger.IntentionSession, "Credential rotated, recreating session", "tenant", meta.UUID)
			r.remove(meta.UUID, e)
			r.acceptPush(meta)
			continue
		}

		if err := e.session.UpdateConfiguration(ctx, meta); err != nil {
			return nil, err
		}
		return e.session, nil
	}
}

func (r *Registry) create(ctx context.Context, meta TenantMetadata, e *entry) (*Session, error) {
	emit := func(current TenantMetadata, res zendesk.ExternalResource) {
		r.opts.Delivery.Deliver(current, e.buffer, res)
	}

	s, err := NewSession(ctx, meta, r.opts.Session, emit)

	r.mu.Lock()
	if err != nil {
		r.deleteLocked(meta.UUID, e)
		e.err = err
		r.mu.Unlock()
		close(e.ready)
		r.logger.Error("Failed to create session", "tenant", meta.UUID, "error", err)
		return nil, err
	}
	e.session = s
	r.metrics.sessions.Inc()
	r.mu.Unlock()
	close(e.ready)

	r.logger.InfoWithIntention(pkgLogger.IntentionSession, "Configured session", "tenant", meta.UUID, "channel", meta.ChannelRef)
	return s, nil
}

// checkPush validates a push token the registry has not seen accepted yet.
// A rejected token leaves the registry untouched.
func (r *Registry) checkPush(ctx context.Context, meta TenantMetadata) error {
	if meta.Push == nil || r.opts.Validator == nil {
		return nil
	}

	r.mu.Lock()
	accepted := r.validated[meta.UUID] == meta.Push.AccessToken
	r.mu.Unlock()
	if accepted {
		return nil
	}

	ok, err := r.opts.Validator.ValidateToken(ctx, meta.Push.Subdomain, meta.Push.InstancePushID, meta.Push.AccessToken)
	if err != nil {
		return errors.Wrapf(ErrUpstream, "validate push token: %v", err)
	}
	if !ok {
		return errors.Wrapf(ErrAuth, "push token rejected for tenant %s", meta.UUID)
	}

	r.acceptPush(meta)
	return nil
}

// acceptPush records meta's push token as validated for its tenant.
func (r *Registry) acceptPush(meta TenantMetadata) {
	if meta.Push == nil || r.opts.Validator == nil {
		return
	}
	r.mu.Lock()
	r.validated[meta.UUID] = meta.Push.AccessToken
	r.mu.Unlock()
}

// remove deletes e if it is still the slot for uuid, then destroys its session.
func (r *Registry) remove(uuid string, e *entry) {
	r.mu.Lock()
	removed := r.deleteLocked(uuid, e)
	r.mu.Unlock()

	if removed && e.session != nil {
		r.discard(e)
	}
}

func (r *Registry) deleteLocked(uuid string, e *entry) bool {
	if r.entries[uuid] != e {
		return false
	}
	delete(r.entries, uuid)
	delete(r.validated, uuid)
	if i := slices.Index(r.order, uuid); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	if e.session != nil {
		r.metrics.sessions.Dec()
	}
	return true
}

func (r *Registry) discard(e *entry) {
	e.session.Destroy()
	if n := len(e.buffer.Drain()); n > 0 {
		r.metrics.buffered.Sub(float64(n))
		r.logger.Warn("Discarded buffered resources of destroyed session", "count", n)
	}
}

// Lookup returns the live session for uuid.
func (r *Registry) Lookup(uuid string) (*Session, bool) {
	r.mu.Lock()
	e, ok := r.entries[uuid]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.session, e.session != nil
	default:
		return nil, false
	}
}

// Drain empties the tenant's buffer and returns its resources in order.
func (r *Registry) Drain(uuid string) []zendesk.ExternalResource {
	r.mu.Lock()
	e, ok := r.entries[uuid]
	r.mu.Unlock()
	if !ok {
		return []zendesk.ExternalResource{}
	}

	items := e.buffer.Drain()
	r.metrics.buffered.Sub(float64(len(items)))
	return items
}

// Pull registers or refreshes the tenant's session and drains its buffer.
func (r *Registry) Pull(ctx context.Context, meta TenantMetadata) ([]zendesk.ExternalResource, error) {
	if _, err := r.ResolveOrCreate(ctx, meta); err != nil {
		return nil, err
	}
	return r.Drain(meta.UUID), nil
}

// Channelback posts a reply through the tenant's existing session. Tenants
// register on pull; channelback never creates a session.
func (r *Registry) Channelback(ctx context.Context, uuid string, req ChannelbackRequest) (string, error) {
	s, ok := r.Lookup(uuid)
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "no session for tenant %s", uuid)
	}
	return s.Channelback(ctx, req)
}

// Sessions returns the live sessions in registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.order))
	for _, uuid := range r.order {
		e := r.entries[uuid]
		select {
		case <-e.ready:
			if e.session != nil {
				out = append(out, e.session)
			}
		default:
		}
	}
	return out
}

// ResolveClickthrough asks every session in registration order to resolve
// externalID and returns the first URL found. Clickthrough requests carry
// no tenant id, so this is linear in the number of tenants.
func (r *Registry) ResolveClickthrough(ctx context.Context, externalID string) (string, error) {
	for _, s := range r.Sessions() {
		url, err := s.Clickthrough(ctx, externalID)
		if err == nil {
			return url, nil
		}
		r.logger.Debug("Clickthrough candidate failed", "tenant", s.Metadata().UUID, "error", err)
	}
	return "", errors.Wrapf(ErrNotFound, "no session resolves %q", externalID)
}

// HandleStatusChange offers a ticket status change to every session until
// one owns the thread. Errors are logged, never returned: the webhook
// caller always acknowledges.
func (r *Registry) HandleStatusChange(ctx context.Context, threadID, status string) bool {
	for _, s := range r.Sessions() {
		handled, err := s.StatusChange(ctx, threadID, status)
		if err != nil {
			r.logger.Error("Status change failed", "tenant", s.Metadata().UUID, "thread", threadID, "status", status, "error", err)
		}
		if handled {
			return true
		}
	}
	r.logger.Warn("No session owns thread for status change", "thread", threadID, "status", status)
	return false
}

// Len returns the number of registered tenants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close destroys every session and waits for in-flight pushes.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, uuid := range r.order {
		entries = append(entries, r.entries[uuid])
	}
	r.entries = make(map[string]*entry)
	r.validated = make(map[string]string)
	r.order = nil
	r.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.session != nil {
			r.metrics.sessions.Dec()
			r.discard(e)
		}
	}
	r.opts.Delivery.Close()
}

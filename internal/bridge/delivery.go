package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

// Pusher sends resources to the ticketing push endpoint.
type Pusher interface {
	Push(ctx context.Context, subdomain, instancePushID, accessToken string, resources []zendesk.ExternalResource) error
}

// Delivery decides per resource whether to push it now or buffer it for the next poll.
type Delivery struct {
	pusher  Pusher
	timeout time.Duration
	metrics *Metrics
	logger  *pkgLogger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDelivery creates a delivery policy. Push calls are bounded by timeout.
func NewDelivery(pusher Pusher, timeout time.Duration, metrics *Metrics, logger *pkgLogger.Logger) *Delivery {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Delivery{
		pusher:  pusher,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.WithComponent("delivery"),
	}
}

// Deliver pushes r when the tenant has a push descriptor and appends it to
// buf otherwise. Pushes run detached; a failed push is logged and the
// resource is lost, never retried or re-buffered.
func (d *Delivery) Deliver(meta TenantMetadata, buf *Buffer, r zendesk.ExternalResource) {
	if meta.CanPush() && d.pusher != nil {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			d.logger.Warn("Delivery closed, resource dropped", "tenant", meta.UUID, "external_id", r.ExternalID)
			return
		}
		d.wg.Add(1)
		d.mu.Unlock()

		d.metrics.delivered.WithLabelValues("push").Inc()
		go d.push(meta.UUID, *meta.Push, r)
		return
	}

	d.metrics.delivered.WithLabelValues("buffer").Inc()
	if buf.Append(r) {
		d.metrics.dropped.Inc()
		d.logger.Warn("Buffer full, dropped oldest resource", "tenant", meta.UUID)
		return
	}
	d.metrics.buffered.Inc()
}

func (d *Delivery) push(tenant string, push PushDescriptor, r zendesk.ExternalResource) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.pusher.Push(ctx, push.Subdomain, push.InstancePushID, push.AccessToken, []zendesk.ExternalResource{r})
	if err != nil {
		d.metrics.pushFailures.Inc()
		d.logger.Error("Push failed, resource dropped", "tenant", tenant, "external_id", r.ExternalID, "error", err)
		return
	}
	d.logger.DebugWithIntention(pkgLogger.IntentionDelivery, "Pushed resource", "tenant", tenant, "external_id", r.ExternalID)
}

// Wait blocks until in-flight pushes finish.
func (d *Delivery) Wait() {
	d.wg.Wait()
}

// Close stops accepting pushes and waits for in-flight ones.
func (d *Delivery) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

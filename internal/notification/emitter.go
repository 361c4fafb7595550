package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"formation-review/internal/common/logger"
	"formation-review/internal/common/metrics"
	"formation-review/internal/models"

	"github.com/google/uuid"
)

// Event describes one notification to create for one recipient.
type Event struct {
	RecipientID    string
	Type           models.NotificationType
	Title          string
	Message        string
	ApplicationID  *string
	InterviewID    *string
	FormationTitle string
	InterviewDate  *time.Time
}

// Emitter persists a notification and then pushes it to the live channel and
// the email/SMS side channels. Only persistence failures are returned.
type Emitter struct {
	store           *Store
	publisher       Publisher
	cache           *UnreadCache
	delivery        *Delivery
	deliveryTimeout time.Duration
	logger          logger.Logger
	now             func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type EmitterOption func(*Emitter)

// WithDelivery enables asynchronous email/SMS delivery bounded by timeout.
func WithDelivery(d *Delivery, timeout time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.delivery = d
		e.deliveryTimeout = timeout
	}
}

func WithUnreadCache(c *UnreadCache) EmitterOption {
	return func(e *Emitter) { e.cache = c }
}

func NewEmitter(store *Store, publisher Publisher, log logger.Logger, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		store:           store,
		publisher:       publisher,
		deliveryTimeout: 30 * time.Second,
		logger:          log.WithFields(map[string]interface{}{"component": "notification-emitter"}),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) Emit(ctx context.Context, ev Event) (*models.Notification, error) {
	if ev.RecipientID == "" {
		return nil, fmt.Errorf("notification %s has no recipient", ev.Type)
	}

	n := &models.Notification{
		ID:            uuid.New().String(),
		RecipientID:   ev.RecipientID,
		Type:          ev.Type,
		Title:         ev.Title,
		Message:       ev.Message,
		ApplicationID: ev.ApplicationID,
		InterviewID:   ev.InterviewID,
		CreatedAt:     e.now().UTC(),
		InterviewDate: ev.InterviewDate,
	}
	if ev.FormationTitle != "" {
		title := ev.FormationTitle
		n.FormationTitle = &title
	}

	if err := e.store.Create(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()

	if err := e.cache.Invalidate(ctx, n.RecipientID); err != nil {
		e.logger.Warn("unread cache invalidation failed", map[string]interface{}{
			"recipientId": n.RecipientID,
			"error":       err,
		})
	}

	e.publish(ctx, n)
	e.deliverAsync(ctx, n)

	return n, nil
}

func (e *Emitter) publish(ctx context.Context, n *models.Notification) {
	frame, err := EncodeNotification(n)
	if err != nil {
		e.logger.Error("notification encoding failed", map[string]interface{}{
			"notificationId": n.ID,
			"error":          err,
		})
		return
	}
	if err := e.publisher.Publish(ctx, n.RecipientID, frame); err != nil {
		e.logger.Warn("live publish failed", map[string]interface{}{
			"notificationId": n.ID,
			"recipientId":    n.RecipientID,
			"error":          err,
		})
	}
}

func (e *Emitter) deliverAsync(ctx context.Context, n *models.Notification) {
	if e.delivery == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn("emitter closed, side-channel delivery skipped", map[string]interface{}{
			"notificationId": n.ID,
		})
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.deliveryTimeout)
		defer cancel()
		e.delivery.Deliver(dctx, n)
	}()
}

// Close waits for in-flight side-channel deliveries. Notifications emitted
// after Close are still persisted and pushed live but not mailed.
func (e *Emitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

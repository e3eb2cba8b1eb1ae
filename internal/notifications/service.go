package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const deliveryTimeout = 15 * time.Second

// DispatcherConfig sizes the queue and the worker pool.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
}

// Dispatcher delivers notifications in the background. Notify never
// blocks and delivery failures are only logged.
type Dispatcher struct {
	store    Store
	channels []Channel
	logger   *zap.Logger
	cfg      DispatcherConfig
	now      func() time.Time

	queue   chan Message
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	stopped bool
}

func NewDispatcher(store Store, channels []Channel, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Dispatcher{
		store:    store,
		channels: channels,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		queue:    make(chan Message, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Notify queues a message for recipient. A full queue drops the message.
func (d *Dispatcher) Notify(ctx context.Context, recipient uuid.UUID, kind Type, title, message string, related uuid.UUID) {
	if recipient == uuid.Nil {
		return
	}
	msg := Message{
		RecipientID: recipient,
		Type:        kind,
		Title:       title,
		Body:        message,
		RelatedID:   related,
		CreatedAt:   d.now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.logger.Warn("Dispatcher stopped, dropping notification",
			zap.String("type", string(kind)),
			zap.String("recipient_id", recipient.String()))
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("Notification queue full, dropping notification",
			zap.String("type", string(kind)),
			zap.String("recipient_id", recipient.String()))
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running || d.stopped {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	go func() {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.done:
		}
	}()

	d.logger.Info("Notification dispatcher started", zap.Int("workers", d.cfg.Workers))
}

// Stop refuses new messages, delivers what is queued and waits for the
// workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	wasRunning := d.running
	d.running = false
	close(d.done)
	d.mu.Unlock()

	if !wasRunning {
		d.drain()
		return
	}
	d.wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	contact, err := d.store.GetContact(ctx, msg.RecipientID)
	if err != nil {
		d.logger.Warn("Failed to load contact", zap.String("recipient_id", msg.RecipientID.String()), zap.Error(err))
	}
	for _, ch := range d.channels {
		if err := d.deliverVia(ctx, ch, msg, contact); err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("type", string(msg.Type)),
				zap.String("recipient_id", msg.RecipientID.String()),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) deliverVia(ctx context.Context, ch Channel, msg Message, contact *Contact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	return ch.Deliver(ctx, msg, contact)
}

// Inbox serves the in-app notification reads.
type Inbox struct {
	store Store
	now   func() time.Time
}

func NewInbox(store Store) *Inbox {
	return &Inbox{store: store, now: time.Now}
}

// List returns the newest notifications of a user.
func (i *Inbox) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return i.store.ListForUser(ctx, userID, unreadOnly, limit)
}

// MarkRead marks one of the user's notifications as read.
func (i *Inbox) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return i.store.MarkRead(ctx, userID, id, i.now().UTC())
}

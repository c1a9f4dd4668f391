package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Defaults for NewDispatcher.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

// ErrSkipped is returned by a Channel that has nobody to deliver n to.
// Skipped deliveries are not logged.
var ErrSkipped = errors.New("notification skipped")

// Channel delivers notifications over one medium.
type Channel interface {
	// Name is the channel name stored in the notification log.
	Name() string
	// Send delivers n and returns the recipient it was addressed to.
	Send(ctx context.Context, n Notification) (recipient string, err error)
}

// Dispatcher queues notifications and delivers them from a worker pool.
type Dispatcher struct {
	channels    []Channel
	logs        LogRepository
	metrics     *Metrics
	workers     int
	sendTimeout time.Duration

	queue  chan Notification
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of delivery workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Notification, n)
		}
	}
}

// WithSendTimeout bounds each channel send.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// WithMetrics records deliveries in m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher. Call Start to launch the workers.
func NewDispatcher(logs LogRepository, channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels:    channels,
		logs:        logs,
		workers:     DefaultWorkers,
		sendTimeout: DefaultSendTimeout,
		queue:       make(chan Notification, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	slog.Info("notification dispatcher started",
		"workers", d.workers,
		"queue_size", cap(d.queue),
		"channels", len(d.channels))
}

// Enqueue schedules n for delivery without blocking. It returns false when the
// queue is full or the dispatcher is closed; a full queue is recorded as dropped.
func (d *Dispatcher) Enqueue(n Notification) bool {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- n:
		if d.metrics != nil {
			d.metrics.SetQueueDepth(len(d.queue))
		}
		return true
	default:
		slog.Warn("notification queue full, dropping",
			"kind", n.Kind,
			"booking_id", n.BookingID,
			"event_id", n.EventID)
		go d.recordDropped(n)
		return false
	}
}

// Close stops accepting notifications and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		if d.metrics != nil {
			d.metrics.SetQueueDepth(len(d.queue))
		}
		d.deliver(n)
	}
}

// deliver sends n on every channel and logs each attempt.
func (d *Dispatcher) deliver(n Notification) {
	for _, ch := range d.channels {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		recipient, err := ch.Send(ctx, n)
		cancel()

		if errors.Is(err, ErrSkipped) {
			continue
		}

		entry := &Log{
			BookingID: n.BookingID,
			PaymentID: n.PaymentID,
			EventID:   n.EventID,
			Kind:      n.Kind,
			Channel:   ch.Name(),
			Recipient: recipient,
			Status:    StatusSent,
		}
		if err != nil {
			entry.Status = StatusFailed
			entry.Error = err.Error()
			slog.Warn("notification delivery failed",
				"channel", ch.Name(),
				"kind", n.Kind,
				"booking_id", n.BookingID,
				"error", err)
		}
		d.record(entry)
	}
}

func (d *Dispatcher) recordDropped(n Notification) {
	for _, ch := range d.channels {
		d.record(&Log{
			BookingID: n.BookingID,
			PaymentID: n.PaymentID,
			EventID:   n.EventID,
			Kind:      n.Kind,
			Channel:   ch.Name(),
			Status:    StatusDropped,
			Error:     "queue full",
		})
	}
}

func (d *Dispatcher) record(entry *Log) {
	if d.metrics != nil {
		d.metrics.IncDelivery(entry.Channel, entry.Status)
	}
	if d.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.logs.Insert(ctx, entry); err != nil {
		slog.Error("failed to record notification log",
			"channel", entry.Channel,
			"booking_id", entry.BookingID,
			"error", err)
	}
}

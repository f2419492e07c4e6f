package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher defaults.
const (
	defaultQueueSize  = 256
	defaultMaxRetries = 3
	defaultRetryDelay = 250 * time.Millisecond
	jobTimeout        = 15 * time.Second
)

// job is one pending webhook delivery.
type job struct {
	kind           string // "message" or "notify"
	conversationID string
	payload        string // message text, or callback URL for notify
}

// Dispatcher delivers webhook calls asynchronously with bounded retry.
// Callers never block on the bot: Enqueue* return immediately, delivery
// failures go to the log, and a full queue drops with a warning.
type Dispatcher struct {
	client *Client
	logger *slog.Logger

	maxRetries int
	retryDelay time.Duration

	jobs chan job
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.jobs = make(chan job, n)
	}
}

// WithRetryPolicy overrides retry count and base delay.
func WithRetryPolicy(maxRetries int, delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxRetries = maxRetries
		d.retryDelay = delay
	}
}

// NewDispatcher creates and starts a dispatcher with one delivery worker.
func NewDispatcher(client *Client, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		client:     client,
		logger:     logger.With("component", "bot.dispatcher"),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		jobs:       make(chan job, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// EnqueueMessage queues a user message for delivery to the bot.
// Returns false if the queue is full and the message was dropped.
func (d *Dispatcher) EnqueueMessage(conversationID, message string) bool {
	return d.enqueue(job{kind: "message", conversationID: conversationID, payload: message})
}

// EnqueueNotify queues a conversation-start notice.
// Returns false if the queue is full and the notice was dropped.
func (d *Dispatcher) EnqueueNotify(conversationID, callbackURL string) bool {
	return d.enqueue(job{kind: "notify", conversationID: conversationID, payload: callbackURL})
}

func (d *Dispatcher) enqueue(j job) bool {
	select {
	case d.jobs <- j:
		return true
	default:
		d.logger.Warn("dispatch queue full, dropping",
			"kind", j.kind,
			"conversation_id", j.conversationID,
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

// run is the delivery loop.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for j := range d.jobs {
		d.deliver(j)
	}
}

// deliver attempts one job with linear-backoff retry.
func (d *Dispatcher) deliver(j job) {
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.retryDelay * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		switch j.kind {
		case "notify":
			lastErr = d.client.Notify(ctx, j.conversationID, j.payload)
		default:
			lastErr = d.client.Send(ctx, j.conversationID, j.payload)
		}
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				d.logger.Info("delivery succeeded after retry",
					"kind", j.kind,
					"conversation_id", j.conversationID,
					"attempts", attempt+1,
				)
			}
			return
		}
	}

	d.logger.Error("delivery failed, giving up",
		"kind", j.kind,
		"conversation_id", j.conversationID,
		"attempts", d.maxRetries+1,
		"error", lastErr,
	)
}

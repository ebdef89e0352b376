package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"semaphore/liveclass/internal/metrics"
)

type envelope struct {
	channel string
	event   Event
}

// Dispatcher queues events in memory and publishes them from a single
// background goroutine. A full queue drops the event.
type Dispatcher struct {
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan envelope
	done    chan struct{}
}

func NewDispatcher(publisher Publisher, logger *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		publisher: publisher,
		logger:    logger,
		timeout:   2 * time.Second,
		queue:     make(chan envelope, buffer),
		done:      make(chan struct{}),
	}
}

// Start drains the queue until Close is called. Pending events are flushed on close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go func() {
		defer close(d.done)
		for env := range d.queue {
			d.publish(ctx, env)
		}
	}()
}

func (d *Dispatcher) Notify(channel string, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.NotifyFailures.WithLabelValues("closed").Inc()
		return
	}
	select {
	case d.queue <- envelope{channel: channel, event: event}:
	default:
		metrics.NotifyFailures.WithLabelValues("dropped").Inc()
		d.logger.Warn("notify queue full, dropping event",
			zap.String("channel", channel),
			zap.String("event", event.Type),
		)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.done
	}
}

func (d *Dispatcher) publish(ctx context.Context, env envelope) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.publisher.Publish(pubCtx, env.channel, env.event); err != nil {
		metrics.NotifyFailures.WithLabelValues("publish").Inc()
		d.logger.Warn("notify publish failed",
			zap.String("channel", env.channel),
			zap.String("event", env.event.Type),
			zap.Error(err),
		)
	}
}

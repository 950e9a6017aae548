// Package notify fans lifecycle notifications out to users. Delivery is
// fire-and-forget: a bounded queue feeds a fixed pool of workers, and a
// failed or dropped notification never rolls back the state transition
// that produced it.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/changegate/changegate/domain"
)

// Sender delivers a single notification over some transport.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// LogSender is the default transport: it writes notifications to the
// log. Real deployments plug in email/websocket senders.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n domain.Notification) error {
	slog.Info("notification",
		"user_id", n.UserID,
		"type", n.Type,
		"title", n.Title,
		"message", n.Message)
	return nil
}

// Stats counts queue activity. Read with atomic loads.
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Pool is a bounded work queue consumed by a fixed number of workers.
type Pool struct {
	sender Sender
	queue  chan domain.Notification
	wg     sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewPool(sender Sender, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	p := &Pool{
		sender: sender,
		queue:  make(chan domain.Notification, queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Publish enqueues a notification without blocking. A full queue drops
// the notification; losing one is acceptable, blocking a state
// transition is not.
func (p *Pool) Publish(n domain.Notification) {
	p.published.Add(1)
	select {
	case p.queue <- n:
	default:
		p.dropped.Add(1)
		slog.Warn("notification queue full, dropping",
			"user_id", n.UserID,
			"type", n.Type)
	}
}

// Close stops accepting notifications and waits for in-flight ones.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// Stats returns a snapshot of the queue counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for n := range p.queue {
		if err := p.sender.Send(context.Background(), n); err != nil {
			p.failed.Add(1)
			slog.Error("failed to deliver notification",
				"user_id", n.UserID,
				"type", n.Type,
				"error", err)
			continue
		}
		p.delivered.Add(1)
	}
}

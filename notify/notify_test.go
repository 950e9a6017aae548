package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/changegate/changegate/domain"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []domain.Notification
	err   error
	block chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, n domain.Notification) error {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func note(userID string) domain.Notification {
	return domain.Notification{
		UserID:  userID,
		Type:    domain.NotifyReviewAssigned,
		Title:   "Review assigned",
		Message: "You were assigned to review a change",
	}
}

func TestPoolDelivers(t *testing.T) {
	sender := &recordingSender{}
	pool := NewPool(sender, 2, 16)

	for i := 0; i < 5; i++ {
		pool.Publish(note("u1"))
	}
	pool.Close()

	if got := sender.count(); got != 5 {
		t.Errorf("delivered = %d, want 5", got)
	}

	stats := pool.Stats()
	if stats.Published != 5 || stats.Delivered != 5 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want 5 published, 5 delivered, 0 dropped", stats)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("transport down")}
	pool := NewPool(sender, 1, 16)

	pool.Publish(note("u1"))
	pool.Publish(note("u2"))
	pool.Close()

	stats := pool.Stats()
	if stats.Failed != 2 {
		t.Errorf("failed = %d, want 2", stats.Failed)
	}
	if stats.Delivered != 0 {
		t.Errorf("delivered = %d, want 0", stats.Delivered)
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sender := &recordingSender{block: block}
	pool := NewPool(sender, 1, 1)

	// First publish is picked up by the blocked worker, second fills the
	// queue, the rest must drop without blocking.
	for i := 0; i < 10; i++ {
		pool.Publish(note("u1"))
	}

	stats := pool.Stats()
	if stats.Published != 10 {
		t.Errorf("published = %d, want 10", stats.Published)
	}
	if stats.Dropped == 0 {
		t.Errorf("expected drops with a full queue and a stuck worker")
	}

	close(block)
	pool.Close()

	final := pool.Stats()
	if final.Dropped+final.Delivered != final.Published {
		t.Errorf("stats do not add up: %+v", final)
	}
}

func TestPoolPublishNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	sender := &recordingSender{block: block}
	pool := NewPool(sender, 1, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pool.Publish(note("u1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestPoolCloseWaitsForInflight(t *testing.T) {
	sender := &recordingSender{}
	pool := NewPool(sender, 4, 64)

	for i := 0; i < 50; i++ {
		pool.Publish(note("u1"))
	}
	pool.Close()

	// After Close returns every queued notification is accounted for.
	stats := pool.Stats()
	if stats.Delivered != 50 {
		t.Errorf("delivered = %d, want all 50 after Close", stats.Delivered)
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{}).Send(context.Background(), note("u1")); err != nil {
		t.Errorf("LogSender.Send returned %v", err)
	}
}

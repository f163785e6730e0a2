package event

import (
	"sync"
)

// Publisher delivers live notifications to in-process subscribers.
// The durable record is the events table; this is best-effort fan-out so a
// UI or log tailer can follow a run without polling.
type Publisher interface {
	Publish(n Notification)
	Subscribe(runID string) <-chan Notification
	Unsubscribe(runID string, ch <-chan Notification)
	Close()
}

const subscriberBuffer = 64

// MemoryPublisher is an in-process Publisher keyed by run ID.
type MemoryPublisher struct {
	mu     sync.RWMutex
	subs   map[string][]chan Notification
	closed bool
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{subs: make(map[string][]chan Notification)}
}

// Publish sends a notification to all subscribers of its run.
// Slow subscribers are skipped rather than blocking the caller.
func (p *MemoryPublisher) Publish(n Notification) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, ch := range p.subs[n.RunID] {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a channel receiving notifications for the given run.
func (p *MemoryPublisher) Subscribe(runID string) <-chan Notification {
	ch := make(chan Notification, subscriberBuffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch
	}
	p.subs[runID] = append(p.subs[runID], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (p *MemoryPublisher) Unsubscribe(runID string, ch <-chan Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	chans := p.subs[runID]
	for i, c := range chans {
		if c == ch {
			p.subs[runID] = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(p.subs[runID]) == 0 {
		delete(p.subs, runID)
	}
}

// Close shuts down the publisher and closes all subscriber channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for runID, chans := range p.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(p.subs, runID)
	}
}

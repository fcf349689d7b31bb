// Package events publishes dashboard changes to downstream consumers.
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	TypeLoginUpdated   = "login.updated"
	TypeLoginsImported = "logins.imported"
)

// Event is the JSON envelope written to the queue.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	UserEmail  string    `json:"userEmail,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

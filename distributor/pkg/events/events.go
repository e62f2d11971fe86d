// Package events records committed distribution operations for analytics and auditing.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

type Type string

const (
	TypeInitialized Type = "initialized"
	TypeExpanded    Type = "expanded"
	TypeDistributed Type = "distributed"
	TypeClaimed     Type = "claimed"
	TypePaused      Type = "paused"
	TypeResumed     Type = "resumed"
	TypeCancelled   Type = "cancelled"
	TypeReclaimed   Type = "reclaimed"
	TypeClosed      Type = "closed"
)

// Event is one committed operation on a tree.
type Event struct {
	ID                uuid.UUID
	Time              time.Time
	Type              Type
	Tree              solana.PublicKey
	Authority         solana.PublicKey
	BatchID           string
	Index             *uint64
	Recipient         *solana.PublicKey
	Amount            uint64
	NumberDistributed uint64
	Total             uint64
	Status            string
	Signature         string
}

// New fills in an event ID.
func New(t Type, at time.Time) Event {
	return Event{ID: uuid.New(), Time: at.UTC(), Type: t}
}

// Sink receives events after their operation has committed.
type Sink interface {
	Emit(ctx context.Context, events ...Event) error
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, ...Event) error { return nil }

// MemorySink keeps every event in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

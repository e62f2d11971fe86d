// Package replay remembers accepted request signatures so a captured request cannot be
// submitted twice.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// Memory keeps signatures in a map. Expired entries are swept at most once per sweepEvery.
type Memory struct {
	clock      clockwork.Clock
	sweepEvery time.Duration

	mu        sync.Mutex
	seen      map[solana.Signature]time.Time
	nextSweep time.Time
}

const defaultSweepEvery = time.Minute

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:      clock,
		sweepEvery: defaultSweepEvery,
		seen:       make(map[solana.Signature]time.Time),
	}
}

// Remember records sig until expiresAt. It returns false when sig is already recorded and
// has not expired.
func (m *Memory) Remember(_ context.Context, sig solana.Signature, expiresAt time.Time) (bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.After(m.nextSweep) {
		for s, exp := range m.seen {
			if !exp.After(now) {
				delete(m.seen, s)
			}
		}
		m.nextSweep = now.Add(m.sweepEvery)
	}

	if exp, ok := m.seen[sig]; ok && exp.After(now) {
		return false, nil
	}
	m.seen[sig] = expiresAt
	return true, nil
}

// Len returns the number of remembered signatures, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// Package store persists distribution trees in their binary account layout.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

func notFound(address solana.PublicKey) error {
	return tree.NewRuleError(tree.ErrTreeNotFound, fmt.Sprintf("tree %s does not exist", address))
}

func alreadyExists(address solana.PublicKey) error {
	return tree.NewRuleError(tree.ErrTreeAlreadyExists, fmt.Sprintf("tree %s already exists", address))
}

// Memory keeps encoded trees in memory. Mutations on one address are serialized; different
// addresses proceed independently.
type Memory struct {
	mu    sync.Mutex
	data  map[solana.PublicKey][]byte
	locks map[solana.PublicKey]*sync.Mutex
	// order holds live addresses in insertion order.
	order []solana.PublicKey
}

func NewMemory() *Memory {
	return &Memory{
		data:  make(map[solana.PublicKey][]byte),
		locks: make(map[solana.PublicKey]*sync.Mutex),
	}
}

func (m *Memory) lock(address solana.PublicKey) func() {
	m.mu.Lock()
	l, ok := m.locks[address]
	if !ok {
		l = &sync.Mutex{}
		m.locks[address] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Memory) load(address solana.PublicKey) (*tree.Tree, error) {
	m.mu.Lock()
	data, ok := m.data[address]
	m.mu.Unlock()
	if !ok {
		return nil, notFound(address)
	}
	return tree.Decode(data)
}

func (m *Memory) save(address solana.PublicKey, t *tree.Tree) error {
	data, err := tree.Encode(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[address] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, address solana.PublicKey) (*tree.Tree, error) {
	return m.load(address)
}

func (m *Memory) Insert(ctx context.Context, address solana.PublicKey, t *tree.Tree, fn func(ctx context.Context) error) error {
	unlock := m.lock(address)
	defer unlock()

	m.mu.Lock()
	_, exists := m.data[address]
	m.mu.Unlock()
	if exists {
		return alreadyExists(address)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if err := m.save(address, t); err != nil {
		return err
	}
	m.mu.Lock()
	m.order = append(m.order, address)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(ctx context.Context, address solana.PublicKey, fn func(ctx context.Context, t *tree.Tree) error) error {
	unlock := m.lock(address)
	defer unlock()

	t, err := m.load(address)
	if err != nil {
		return err
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return m.save(address, t)
}

func (m *Memory) Delete(ctx context.Context, address solana.PublicKey, fn func(ctx context.Context, t *tree.Tree) error) error {
	unlock := m.lock(address)
	defer unlock()

	t, err := m.load(address)
	if err != nil {
		return err
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, address)
	m.order = slices.DeleteFunc(m.order, func(a solana.PublicKey) bool { return a == address })
	m.mu.Unlock()
	return nil
}

// ListByAuthority returns the trees created by authority, newest first.
func (m *Memory) ListByAuthority(_ context.Context, authority solana.PublicKey) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Summary
	for i := len(m.order) - 1; i >= 0; i-- {
		addr := m.order[i]
		t, err := tree.Decode(m.data[addr])
		if err != nil {
			return nil, err
		}
		if t.Authority() != authority {
			continue
		}
		out = append(out, Summary{Address: addr, BatchID: t.BatchID(), Status: t.Status().String()})
	}
	return out, nil
}

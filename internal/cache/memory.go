// Package cache holds client-side copies of corporation data that a
// finished analysis job makes stale. Every implementation invalidates by
// corporation id.
package cache

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	Profile Kind = "profile"
	Insight Kind = "insight"
	Report  Kind = "report"
	Signals Kind = "signals"
)

// Kinds lists every entry kind derived from a corporation's analysis.
var Kinds = []Kind{Profile, Insight, Report, Signals}

type Invalidator interface {
	Invalidate(ctx context.Context, corpID string) error
}

// Store is a cache of raw entries keyed by (kind, corporation).
type Store interface {
	Invalidator
	Get(ctx context.Context, kind Kind, corpID string) ([]byte, bool, error)
	Put(ctx context.Context, kind Kind, corpID string, value []byte) error
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Store. A zero ttl keeps entries until they are
// invalidated.
type Memory struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]map[Kind]entry
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]map[Kind]entry)}
}

func (m *Memory) Put(_ context.Context, kind Kind, corpID string, value []byte) error {
	e := entry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		e.expires = time.Now().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	byKind, ok := m.entries[corpID]
	if !ok {
		byKind = make(map[Kind]entry)
		m.entries[corpID] = byKind
	}
	byKind[kind] = e
	return nil
}

func (m *Memory) Get(_ context.Context, kind Kind, corpID string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[corpID][kind]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Invalidate drops every entry of corpID. Dropping an absent corporation is
// a no-op.
func (m *Memory) Invalidate(_ context.Context, corpID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, corpID)
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byKind := range m.entries {
		n += len(byKind)
	}
	return n
}

// Package state persists the small side-channel records of a dev session:
// the cached wallet credential and the session snapshot.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bitteprotocol/make-agent/internal/domain"
)

// Well-known keys in the side-channel store.
const (
	SessionKey    = "BITTE_CONFIG"
	CredentialKey = "BITTE_KEY"
)

// KV is an env-like key/value store.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Sessions reads and merge-patches the [domain.SessionState] snapshot kept
// under [SessionKey].
type Sessions struct {
	kv  KV
	key string
}

// NewSessions returns a session store backed by kv.
func NewSessions(kv KV) *Sessions {
	return &Sessions{kv: kv, key: SessionKey}
}

// Load returns the current snapshot, or the zero value when none exists.
func (s *Sessions) Load(ctx context.Context) (domain.SessionState, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil || !ok {
		return domain.SessionState{}, err
	}
	var st domain.SessionState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.SessionState{}, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return st, nil
}

// Merge applies patch on top of whatever snapshot currently exists. An
// undecodable snapshot is replaced rather than blocking the write.
func (s *Sessions) Merge(ctx context.Context, patch domain.SessionPatch) (domain.SessionState, error) {
	cur, err := s.Load(ctx)
	if err != nil {
		cur = domain.SessionState{}
	}
	next := patch.Apply(cur)
	b, err := json.Marshal(next)
	if err != nil {
		return cur, err
	}
	if err := s.kv.Set(ctx, s.key, string(b)); err != nil {
		return cur, fmt.Errorf("write %s: %w", s.key, err)
	}
	return next, nil
}

// Remove deletes the snapshot.
func (s *Sessions) Remove(ctx context.Context) error {
	return s.kv.Remove(ctx, s.key)
}

// MemoryKV is an in-process [KV]. The zero value is ready to use.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryKV returns a MemoryKV seeded with initial.
func NewMemoryKV(initial map[string]string) *MemoryKV {
	m := &MemoryKV{values: make(map[string]string, len(initial))}
	for k, v := range initial {
		m.values[k] = v
	}
	return m
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

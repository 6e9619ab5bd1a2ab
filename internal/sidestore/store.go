// Package sidestore persists per-cell hints that the backend does not own
// authoritatively: the operator's note and the responsible person.
package sidestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Kind names a side value.
type Kind string

const (
	KindNote        Kind = "note"
	KindResponsible Kind = "responsible"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindNote || k == KindResponsible
}

// Store reads and writes side values. Get returns "" for absent values;
// Put with an empty value removes the entry.
type Store interface {
	Get(ctx context.Context, kind Kind, key models.ProgressKey) (string, error)
	Put(ctx context.Context, kind Kind, key models.ProgressKey, value string) error
	Close() error
}

// storageKey is the flat key used by every backend: "<kind>|su|rack|process".
func storageKey(kind Kind, key models.ProgressKey) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown side value kind %q", kind)
	}
	key = key.Canonical()
	if key.IsZero() {
		return "", fmt.Errorf("incomplete key %q", key.String())
	}
	return string(kind) + "|" + key.String(), nil
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, kind Kind, key models.ProgressKey) (string, error) {
	k, err := storageKey(kind, key)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[k], nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, kind Kind, key models.ProgressKey, value string) error {
	k, err := storageKey(kind, key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == "" {
		delete(m.values, k)
		return nil
	}
	m.values[k] = value
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

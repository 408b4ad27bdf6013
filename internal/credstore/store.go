// Package credstore persists the access/refresh credential pair across
// process restarts. Two backends exist: a JSON file (the default) and a SQLite
// key-value table. Both store the pair under fixed names and clear both
// credentials together, never one at a time.
//
// The session coordinator is the only writer. Stores are safe for concurrent
// use so that read-only consumers (status display) can share them.
package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store is the persistence contract for the credential pair.
// Load returns (nil, nil) when no credentials are stored.
type Store interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the Store selected by backend. For the file backend, watch
// enables fsnotify-based cache invalidation so that a renewal written by
// another process is picked up on the next Load.
func Open(ctx context.Context, backend, path string, watch bool, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendFile, "":
		fs := NewFileStore(path, logger)
		if watch {
			if err := fs.Watch(); err != nil {
				return nil, err
			}
		}

		return fs, nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, path, logger)
	default:
		return nil, fmt.Errorf("credstore: unknown backend %q", backend)
	}
}

// MemoryStore keeps credentials in process memory only.
type MemoryStore struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

// NewMemoryStore returns a MemoryStore seeded with tok (may be nil).
func NewMemoryStore(tok *oauth2.Token) *MemoryStore {
	return &MemoryStore{tok: cloneToken(tok)}
}

func (m *MemoryStore) Load(_ context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return cloneToken(m.tok), nil
}

func (m *MemoryStore) Save(_ context.Context, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tok = cloneToken(tok)

	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tok = nil

	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// cloneToken returns a shallow copy so callers never share a *oauth2.Token
// with the store's internal state.
func cloneToken(tok *oauth2.Token) *oauth2.Token {
	if tok == nil {
		return nil
	}

	c := *tok

	return &c
}

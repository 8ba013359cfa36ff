// Package testutil provides failure-injecting wrappers around the in-memory
// stores.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/xaenox/opinion-topics/internal/mirror"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/storage"
)

var (
	ErrInjectedStorage = errors.New("injected storage failure")
	ErrInjectedMirror  = errors.New("injected mirror failure")
)

// FaultyStorage fails selected writes of an embedded MemoryStorage.
type FaultyStorage struct {
	*storage.MemoryStorage

	mu           sync.Mutex
	failUpsertOf map[string]bool
	failStates   bool
}

func NewFaultyStorage() *FaultyStorage {
	return &FaultyStorage{
		MemoryStorage: storage.NewMemoryStorage(),
		failUpsertOf:  make(map[string]bool),
	}
}

// FailUpsertFor makes UpsertAnalysisState fail for the given opinions.
func (s *FaultyStorage) FailUpsertFor(opinionIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range opinionIDs {
		s.failUpsertOf[id] = true
	}
}

// FailStateQueries makes ListAnalysisStates fail.
func (s *FaultyStorage) FailStateQueries(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStates = fail
}

func (s *FaultyStorage) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpsertOf = make(map[string]bool)
	s.failStates = false
}

func (s *FaultyStorage) UpsertAnalysisState(ctx context.Context, state *models.AnalysisState) error {
	s.mu.Lock()
	fail := s.failUpsertOf[state.OpinionID]
	s.mu.Unlock()
	if fail {
		return ErrInjectedStorage
	}
	return s.MemoryStorage.UpsertAnalysisState(ctx, state)
}

func (s *FaultyStorage) ListAnalysisStates(ctx context.Context, projectKey string) ([]*models.AnalysisState, error) {
	s.mu.Lock()
	fail := s.failStates
	s.mu.Unlock()
	if fail {
		return nil, ErrInjectedStorage
	}
	return s.MemoryStorage.ListAnalysisStates(ctx, projectKey)
}

// FaultyMirror fails writes below a path prefix of an embedded MemoryMirror.
type FaultyMirror struct {
	*mirror.MemoryMirror

	mu       sync.Mutex
	prefixes []string
	writes   []string
}

func NewFaultyMirror() *FaultyMirror {
	return &FaultyMirror{MemoryMirror: mirror.NewMemoryMirror()}
}

// FailPrefix makes every Set on a path starting with prefix fail. An empty
// prefix fails all writes.
func (m *FaultyMirror) FailPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes = append(m.prefixes, prefix)
}

func (m *FaultyMirror) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes = nil
}

// Writes lists the paths of successful Set calls in order.
func (m *FaultyMirror) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func (m *FaultyMirror) Set(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	for _, p := range m.prefixes {
		if strings.HasPrefix(path, p) {
			m.mu.Unlock()
			return ErrInjectedMirror
		}
	}
	m.mu.Unlock()

	if err := m.MemoryMirror.Set(ctx, path, value); err != nil {
		return err
	}

	m.mu.Lock()
	m.writes = append(m.writes, path)
	m.mu.Unlock()
	return nil
}

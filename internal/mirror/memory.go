package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type MemoryMirror struct {
	mu    sync.RWMutex
	nodes map[string][]byte
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{nodes: make(map[string][]byte)}
}

func (m *MemoryMirror) Set(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	var data []byte
	if !isNil(value) {
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.nodes, k)
		}
	}
	if data != nil && string(data) != "null" {
		m.nodes[p] = data
	}
	return nil
}

func (m *MemoryMirror) Get(ctx context.Context, path string, dst any) (bool, error) {
	p, err := cleanPath(path)
	if err != nil {
		return false, err
	}

	m.mu.RLock()
	data, ok := m.nodes[p]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", p, err)
	}
	return true, nil
}

// Paths lists every stored path in order.
func (m *MemoryMirror) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.nodes))
	for k := range m.nodes {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

func (m *MemoryMirror) Close() error {
	return nil
}

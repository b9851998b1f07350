package settings

import (
	"context"
	"sync"
)

// MemoryPersister is an in-process Persister for tests that don't need
// a sqlite file.
type MemoryPersister struct {
	mu sync.Mutex
	kv map[string]string
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{kv: make(map[string]string)}
}

func (p *MemoryPersister) LoadSettings(_ context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.kv))
	for k, v := range p.kv {
		out[k] = v
	}
	return out, nil
}

func (p *MemoryPersister) SaveSettings(_ context.Context, kv map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range kv {
		p.kv[k] = v
	}
	return nil
}

var _ Persister = (*MemoryPersister)(nil)

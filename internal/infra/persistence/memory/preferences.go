package memory

import (
	"context"
	"sync"
)

// PreferenceStore keeps preference blobs in a map.
type PreferenceStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewPreferenceStore returns an empty preference store.
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{data: make(map[string][]byte)}
}

// Data returns a copy of the bytes stored under key.
func (p *PreferenceStore) Data(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// SetData stores a copy of data under key.
func (p *PreferenceStore) SetData(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.data[key] = append([]byte(nil), data...)
	p.mu.Unlock()
	return nil
}

// Remove deletes key.
func (p *PreferenceStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.data, key)
	p.mu.Unlock()
	return nil
}

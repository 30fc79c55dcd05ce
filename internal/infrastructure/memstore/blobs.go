package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/deadlock-vault/internal/domain"
)

type Blobs struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewBlobs() *Blobs {
	return &Blobs{buckets: make(map[string]map[string][]byte)}
}

func (b *Blobs) EnsureBucket(_ context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (b *Blobs) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	objs, ok := b.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	objs[key] = append([]byte(nil), data...)
	return nil
}

func (b *Blobs) Get(_ context.Context, bucket, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("object not found: %w", domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (b *Blobs) Delete(_ context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets[bucket], key)
	return nil
}

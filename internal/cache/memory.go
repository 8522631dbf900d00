package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryBackend is a bounded process-local LRU.
type MemoryBackend struct {
	entries *lru.Cache[string, *Entry]
}

func NewMemoryBackend(size int) (*MemoryBackend, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &MemoryBackend{entries: c}, nil
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := b.entries.Get(key)
	return e, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, e *Entry) error {
	b.entries.Add(e.Key, e)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	return b.entries.Remove(key), nil
}

func (b *MemoryBackend) Flush(context.Context) error {
	b.entries.Purge()
	return nil
}

func (b *MemoryBackend) Len() int { return b.entries.Len() }

func (b *MemoryBackend) Count(context.Context) (int64, error) { return int64(b.entries.Len()), nil }

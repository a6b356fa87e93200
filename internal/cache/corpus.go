package cache

import (
	"context"
	"sync"

	"github.com/lensquery/lensquery/internal/domain"
	"github.com/lensquery/lensquery/internal/metrics"
)

// modelCacheSize bounds how many embedding models keep a resident corpus.
const modelCacheSize = 3

// Loader fetches corpus data from persistent storage on cache miss.
type Loader interface {
	CorpusByModel(ctx context.Context, model string) ([]domain.CorpusItem, error)
	RegionsByModel(ctx context.Context, model string) ([]domain.RegionRecord, error)
}

type flight struct {
	done chan struct{}
	err  error
}

// Corpus keeps per-model snapshots of the embedding corpus and region
// embeddings in memory. Concurrent misses for the same model collapse into
// a single load; writers call Invalidate after mutating the corpus.
type Corpus struct {
	loader   Loader
	items    *LRU[string, []domain.CorpusItem]
	regions  *LRU[string, []domain.RegionRecord]
	mu       sync.Mutex
	inflight map[string]*flight
}

// NewCorpus creates the corpus cache over the given loader.
func NewCorpus(loader Loader) *Corpus {
	return &Corpus{
		loader:   loader,
		items:    NewLRU[string, []domain.CorpusItem](modelCacheSize, 0),
		regions:  NewLRU[string, []domain.RegionRecord](modelCacheSize, 0),
		inflight: make(map[string]*flight),
	}
}

// Ensure returns the corpus for a model, loading it once on miss. The
// returned slice is shared; callers must not mutate it.
func (c *Corpus) Ensure(ctx context.Context, model string) ([]domain.CorpusItem, error) {
	if items, ok := c.items.Get(model); ok {
		return items, nil
	}
	err := c.load(ctx, "emb:"+model, func() error {
		metrics.CorpusCacheLoadsTotal.WithLabelValues("embeddings").Inc()
		items, err := c.loader.CorpusByModel(ctx, model)
		if err != nil {
			return err
		}
		c.items.Put(model, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	items, _ := c.items.Get(model)
	return items, nil
}

// EnsureRegions returns the region embeddings for a model, loading them
// once on miss.
func (c *Corpus) EnsureRegions(ctx context.Context, model string) ([]domain.RegionRecord, error) {
	if regions, ok := c.regions.Get(model); ok {
		return regions, nil
	}
	err := c.load(ctx, "reg:"+model, func() error {
		metrics.CorpusCacheLoadsTotal.WithLabelValues("regions").Inc()
		regions, err := c.loader.RegionsByModel(ctx, model)
		if err != nil {
			return err
		}
		c.regions.Put(model, regions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	regions, _ := c.regions.Get(model)
	return regions, nil
}

// Invalidate drops every cached model. Called after inserts, deletes, and
// reindex runs; the next search reloads from storage.
func (c *Corpus) Invalidate() {
	c.items.Purge()
	c.regions.Purge()
}

// Stats reports the cached item count per model.
func (c *Corpus) Stats() map[string]int {
	stats := make(map[string]int)
	for _, model := range c.items.Keys() {
		if items, ok := c.items.Get(model); ok {
			stats[model] = len(items)
		}
	}
	return stats
}

// load runs fn once per key across concurrent callers. Losers wait for the
// winner and share its error.
func (c *Corpus) load(ctx context.Context, key string, fn func() error) error {
	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	f.err = fn()
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(f.done)
	return f.err
}

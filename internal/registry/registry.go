// Package registry derives the bounded set of symbols the streaming layer
// should track from the user's current holdings.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"investflow/logger"
	"investflow/models"
)

// HoldingSource is the slice of the data layer the registry needs.
type HoldingSource interface {
	ListHeldAssets(ctx context.Context) ([]models.TrackedAsset, error)
}

// Config bounds the registry per asset class. The crypto cap is kept below
// the equities cap; streaming connections to the crypto provider are the
// more expensive resource.
type Config struct {
	CryptoCap   int
	EquityCap   int
	QuoteSuffix string
}

// Registry holds the tracked-asset snapshot. Refresh rebuilds the snapshot
// wholesale and swaps it atomically; readers never observe partial state.
type Registry struct {
	source HoldingSource
	cfg    Config
	log    *logger.Entry

	mu     sync.RWMutex
	assets map[int64]models.TrackedAsset
	byFeed map[feedKey]int64
}

type feedKey struct {
	class      models.AssetClass
	feedSymbol string
}

func New(source HoldingSource, cfg Config) *Registry {
	return &Registry{
		source: source,
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent("registry"),
		assets: make(map[int64]models.TrackedAsset),
		byFeed: make(map[feedKey]int64),
	}
}

// Refresh re-queries positive-quantity holdings, truncates each class to its
// cap and replaces the in-memory snapshot in one swap.
func (r *Registry) Refresh(ctx context.Context) error {
	held, err := r.source.ListHeldAssets(ctx)
	if err != nil {
		return fmt.Errorf("list held assets: %w", err)
	}

	grouped := make(map[models.AssetClass][]models.TrackedAsset)
	for _, a := range held {
		if !a.Class.Valid() {
			r.log.WithFields(logger.Fields{"asset_id": a.ID, "class": a.Class}).Warn("skipping asset with unknown class")
			continue
		}
		grouped[a.Class] = append(grouped[a.Class], a)
	}

	assets := make(map[int64]models.TrackedAsset)
	byFeed := make(map[feedKey]int64)
	for class, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		if cap := r.classCap(class); len(list) > cap {
			list = list[:cap]
		}
		for _, a := range list {
			a.FeedSymbol = models.NormalizeFeedSymbol(a.Symbol, class, r.cfg.QuoteSuffix)
			assets[a.ID] = a
			byFeed[feedKey{class: class, feedSymbol: a.FeedSymbol}] = a.ID
		}
	}

	r.mu.Lock()
	r.assets = assets
	r.byFeed = byFeed
	r.mu.Unlock()

	r.log.WithFields(logger.Fields{"tracked": len(assets)}).Info("tracked asset set refreshed")
	return nil
}

func (r *Registry) classCap(class models.AssetClass) int {
	if class == models.AssetClassCrypto {
		return r.cfg.CryptoCap
	}
	return r.cfg.EquityCap
}

// Assets returns the current snapshot ordered by asset id.
func (r *Registry) Assets() []models.TrackedAsset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TrackedAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByID returns the tracked asset for id, if any.
func (r *Registry) ByID(id int64) (models.TrackedAsset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	return a, ok
}

// Resolve matches a provider symbol against the tracked set scoped to the
// given classes. Unmatched symbols are expected during subscription
// transitions and resolve to false.
func (r *Registry) Resolve(feedSymbol string, classes ...models.AssetClass) (models.TrackedAsset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, class := range classes {
		if id, ok := r.byFeed[feedKey{class: class, feedSymbol: feedSymbol}]; ok {
			return r.assets[id], true
		}
	}
	return models.TrackedAsset{}, false
}

// FeedSymbols returns the provider symbols for the given classes, ordered by
// asset id.
func (r *Registry) FeedSymbols(classes ...models.AssetClass) []string {
	assets := r.ByClass(classes...)
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.FeedSymbol)
	}
	return out
}

// ByClass returns tracked assets in the given classes ordered by asset id.
func (r *Registry) ByClass(classes ...models.AssetClass) []models.TrackedAsset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[models.AssetClass]struct{}, len(classes))
	for _, c := range classes {
		want[c] = struct{}{}
	}

	out := make([]models.TrackedAsset, 0, len(r.assets))
	for _, a := range r.assets {
		if _, ok := want[a.Class]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the number of tracked assets per class.
func (r *Registry) Counts() map[models.AssetClass]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.AssetClass]int)
	for _, a := range r.assets {
		counts[a.Class]++
	}
	return counts
}

// Len returns the total number of tracked assets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

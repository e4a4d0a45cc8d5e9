// Package service hosts the real-time price subsystem: tracked-asset
// registry, streaming feeds with HTTP fallback polling, the single update
// pipeline with throttled and bucketed persistence, and client fan-out.
//
// All mutable state (current prices, throttle clocks, bucket states,
// callback list) lives behind one mutex. Critical sections are short and
// never nest, so a single lock is both simpler and sufficient.
package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"investflow/config"
	"investflow/internal/cache"
	"investflow/internal/feed"
	"investflow/internal/hub"
	"investflow/internal/poller"
	"investflow/internal/registry"
	"investflow/internal/store"
	"investflow/logger"
	"investflow/models"
)

// SourcePoll tags ticks that arrived through the fallback poller.
const SourcePoll = "poll"

// UpdateCallback observes every accepted tick. Callbacks run synchronously
// in registration order.
type UpdateCallback func(models.PriceTick)

// CallbackID identifies a registered update callback. Zero is never issued.
type CallbackID uint64

type callbackRegistration struct {
	id CallbackID
	fn UpdateCallback
}

// Stats is the diagnostic snapshot exposed to the REST layer. Degradation is
// only observable here or as stale data in GetCurrentPrice; internal
// failures never surface as errors.
type Stats struct {
	ClientCount       int                       `json:"client_count"`
	TrackedAssetCount int                       `json:"tracked_asset_count"`
	PerClass          map[models.AssetClass]int `json:"per_class"`
	Sources           map[string]bool           `json:"sources"`
}

// Service is the price subsystem façade. Construct one instance at process
// start and hand it to the transport layer; instances are independent so
// tests can build isolated ones.
type Service struct {
	cfg   *config.Config
	log   *logger.Entry
	store store.Store

	registry *registry.Registry
	hub      *hub.Hub
	crypto   feed.Connection
	equity   feed.Connection
	poller   *poller.Poller
	cache    *cache.Cache

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	prices      map[int64]models.CurrentPrice
	lastPersist map[int64]time.Time
	buckets     map[int64]*bucketState
	callbacks   []callbackRegistration
	nextCBID    CallbackID
}

func New(cfg *config.Config, st store.Store) *Service {
	s := &Service{
		cfg:         cfg,
		log:         logger.GetLogger().WithComponent("price_service"),
		store:       st,
		hub:         hub.New(),
		cache:       cache.New(cfg.Cache.Capacity, cfg.Cache.TTL),
		prices:      make(map[int64]models.CurrentPrice),
		lastPersist: make(map[int64]time.Time),
		buckets:     make(map[int64]*bucketState),
	}

	s.registry = registry.New(st, registry.Config{
		CryptoCap:   cfg.Registry.CryptoCap,
		EquityCap:   cfg.Registry.EquityCap,
		QuoteSuffix: cfg.Feeds.Crypto.QuoteSuffix,
	})

	s.crypto = feed.NewCryptoFeed(cfg.Feeds.Crypto,
		s.feedTickHandler(feed.SourceCrypto, models.AssetClassCrypto))
	s.equity = feed.NewEquityFeed(cfg.Feeds.Equity,
		s.feedTickHandler(feed.SourceEquity, models.AssetClassUSEquity, models.AssetClassIntlEquity))

	s.poller = poller.New(cfg.Poller, cfg.Feeds.Equity, s.registry, s.crypto, s.equity, s.polledPrice)

	return s
}

// Start refreshes the tracked set, connects both feeds and launches the
// fallback poller and the periodic registry refresh. Calling Start on a
// running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.registry.Refresh(runCtx); err != nil {
		// Feeds connect with whatever set is available; the refresh loop
		// retries.
		s.log.WithError(err).Warn("initial tracked-asset refresh failed")
	}

	s.connectFeeds()

	if err := s.poller.Start(runCtx); err != nil {
		s.log.WithError(err).Warn("fallback poller start failed")
	}

	s.wg.Add(1)
	go s.refreshLoop(runCtx)

	s.log.Info("price service started")
	return nil
}

// Stop tears down both feed connections, the poller and every registered
// client. Safe to call repeatedly and in any state.
func (s *Service) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.crypto.Disconnect()
	s.equity.Disconnect()
	s.poller.Stop()
	s.wg.Wait()
	s.hub.CloseAll()

	if wasRunning {
		s.log.Info("price service stopped")
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Registry.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshAssets(ctx); err != nil {
				s.log.WithError(err).Warn("periodic asset refresh failed")
			}
		}
	}
}

// RefreshAssets rebuilds the tracked set and reconnects any feed whose
// symbol list changed. Called periodically and on external notification,
// e.g. after a holding is added.
func (s *Service) RefreshAssets(ctx context.Context) error {
	beforeCrypto := s.registry.FeedSymbols(models.AssetClassCrypto)
	beforeEquity := s.registry.FeedSymbols(models.AssetClassUSEquity, models.AssetClassIntlEquity)

	if err := s.registry.Refresh(ctx); err != nil {
		return err
	}

	s.reconcileFeed(s.crypto, beforeCrypto, s.registry.FeedSymbols(models.AssetClassCrypto))
	s.reconcileFeed(s.equity, beforeEquity, s.registry.FeedSymbols(models.AssetClassUSEquity, models.AssetClassIntlEquity))
	return nil
}

func (s *Service) reconcileFeed(conn feed.Connection, before, after []string) {
	if symbolsEqual(before, after) {
		// Connect is a no-op unless the manager is fully disconnected, so
		// this also restarts a source that exhausted its retry budget.
		conn.Connect(after)
		return
	}
	conn.Disconnect()
	conn.Connect(after)
}

func (s *Service) connectFeeds() {
	s.crypto.Connect(s.registry.FeedSymbols(models.AssetClassCrypto))
	s.equity.Connect(s.registry.FeedSymbols(models.AssetClassUSEquity, models.AssetClassIntlEquity))
}

func (s *Service) feedTickHandler(source string, classes ...models.AssetClass) feed.TickHandler {
	return func(feedSymbol string, price float64, ts time.Time) {
		asset, ok := s.registry.Resolve(feedSymbol, classes...)
		if !ok {
			// The provider may still deliver a stale subscription during a
			// transition; silently drop.
			return
		}
		s.UpdatePrice(asset.ID, asset.Symbol, price, ts, source)
	}
}

func (s *Service) polledPrice(asset models.TrackedAsset, price float64, ts time.Time) {
	s.UpdatePrice(asset.ID, asset.Symbol, price, ts, SourcePoll)
}

// GetCurrentPrice returns the last known price for an asset, or nil when the
// asset has never ticked.
func (s *Service) GetCurrentPrice(assetID int64) *models.CurrentPrice {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.prices[assetID]; ok {
		cp := p
		return &cp
	}
	return nil
}

// GetTrackedAssets returns the current tracked-asset snapshot.
func (s *Service) GetTrackedAssets() []models.TrackedAsset {
	return s.registry.Assets()
}

// GetStats returns the diagnostic snapshot.
func (s *Service) GetStats() Stats {
	return Stats{
		ClientCount:       s.hub.Count(),
		TrackedAssetCount: s.registry.Len(),
		PerClass:          s.registry.Counts(),
		Sources: map[string]bool{
			s.crypto.Source(): s.crypto.Connected(),
			s.equity.Source(): s.equity.Connected(),
		},
	}
}

// OnPriceUpdate registers an observer for accepted ticks, e.g. alert
// evaluation. The returned id deregisters it.
func (s *Service) OnPriceUpdate(cb UpdateCallback) CallbackID {
	if cb == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCBID++
	s.callbacks = append(s.callbacks, callbackRegistration{id: s.nextCBID, fn: cb})
	return s.nextCBID
}

// OffPriceUpdate removes a registered callback. Unknown ids are ignored.
func (s *Service) OffPriceUpdate(id CallbackID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, reg := range s.callbacks {
		if reg.id == id {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return
		}
	}
}

// AddClient registers a viewer session and sends it one initialization
// message with the full tracked-asset list and every known current price.
func (s *Service) AddClient(c hub.Client) {
	s.hub.Add(c, s.initMessage())
}

// RemoveClient deregisters a viewer session. Idempotent.
func (s *Service) RemoveClient(c hub.Client) {
	s.hub.Remove(c)
}

func (s *Service) initMessage() models.InitMessage {
	assets := s.registry.Assets()

	s.mu.Lock()
	prices := make([]models.PriceTick, 0, len(s.prices))
	for id, p := range s.prices {
		symbol := ""
		if a, ok := s.registry.ByID(id); ok {
			symbol = a.Symbol
		}
		prices = append(prices, models.PriceTick{
			AssetID:   id,
			Symbol:    symbol,
			Price:     p.Price,
			Timestamp: p.Timestamp,
		})
	}
	s.mu.Unlock()

	sort.Slice(prices, func(i, j int) bool { return prices[i].AssetID < prices[j].AssetID })

	return models.InitMessage{
		Type:   models.MessageTypeInit,
		Assets: assets,
		Prices: prices,
	}
}

// RecordHistoryPoint writes one durable history point directly, bypassing
// the bucket machinery. The REST layer uses this for asset classes the
// streaming pipeline does not bucket.
func (s *Service) RecordHistoryPoint(ctx context.Context, assetID int64, price float64, observedAt time.Time) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("invalid price %v", price)
	}
	return s.store.AppendHistoryPoint(ctx, assetID, price, observedAt)
}

// GetQuote serves an on-demand price lookup through the LRU cache, calling
// fetch only on a miss.
func (s *Service) GetQuote(source, symbol string, fetch func() (float64, error)) (float64, error) {
	key := cache.Key{Source: source, Symbol: symbol}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	v, err := fetch()
	if err != nil {
		return 0, err
	}
	s.cache.Set(key, v)
	return v, nil
}

// GetCacheInfo returns cumulative quote-cache counters.
func (s *Service) GetCacheInfo() cache.Stats {
	return s.cache.GetStats()
}

func symbolsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package service

import (
	"context"
	"math"
	"time"

	"investflow/internal/metrics"
	"investflow/logger"
	"investflow/models"
)

// UpdatePrice is the single entry point for every price observation,
// streamed or polled. In order: overwrite the in-memory current price,
// persist at most once per asset per throttle window, record bucketed
// history for the bucketed classes, invoke callbacks, broadcast to clients.
//
// Writes are last-writer-wins across sources; a polled value arriving after
// a newer streamed one overwrites it. Known quirk, kept as-is pending a
// product decision.
func (s *Service) UpdatePrice(assetID int64, symbol string, price float64, ts time.Time, source string) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		s.log.WithFields(logger.Fields{
			"asset_id": assetID,
			"symbol":   symbol,
			"price":    price,
		}).Debug("discarding invalid price")
		metrics.IncrementDropped(source)
		return
	}

	s.mu.Lock()

	s.prices[assetID] = models.CurrentPrice{Price: price, Timestamp: ts}

	// Durable writes are throttled per asset; intervening updates inside the
	// window touch memory only, bounding write amplification from
	// high-frequency feeds.
	persist := false
	if last, ok := s.lastPersist[assetID]; !ok || ts.Sub(last) >= s.cfg.Pipeline.PersistInterval {
		s.lastPersist[assetID] = ts
		persist = true
	}

	var points []models.HistoryPoint
	if a, ok := s.registry.ByID(assetID); ok && bucketedClass(a.Class) {
		points = s.recordBucketLocked(assetID, price, ts)
	}

	cbs := make([]UpdateCallback, 0, len(s.callbacks))
	for _, reg := range s.callbacks {
		cbs = append(cbs, reg.fn)
	}

	s.mu.Unlock()

	ctx := context.Background()
	if persist {
		if err := s.store.WriteCurrentPrice(ctx, assetID, price, ts); err != nil {
			// Swallowed; memory already holds the value and the next window
			// retries naturally.
			s.log.WithError(err).WithField("asset_id", assetID).Warn("current price persist failed")
			metrics.IncrementPersistError()
		}
	}

	for _, point := range points {
		if err := s.store.AppendHistoryPoint(ctx, point.AssetID, point.Price, point.ObservedAt); err != nil {
			s.log.WithError(err).WithField("asset_id", point.AssetID).Warn("history point persist failed")
			metrics.IncrementPersistError()
			continue
		}
		metrics.IncrementHistoryPoint()
	}

	tick := models.PriceTick{
		AssetID:   assetID,
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
		Source:    source,
	}
	for _, cb := range cbs {
		cb(tick)
	}

	s.hub.Broadcast(models.UpdateMessage{
		Type:      models.MessageTypeUpdate,
		AssetID:   assetID,
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts.UnixMilli(),
	})

	metrics.IncrementTick(source)
	metrics.IncrementBroadcast()
}

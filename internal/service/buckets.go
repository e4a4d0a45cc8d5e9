package service

import (
	"time"

	"investflow/models"
)

// bucketState is the rolling per-asset state of the open history bucket.
// At most one bucket is open per asset at a time.
type bucketState struct {
	start     time.Time
	lastPrice float64
	lastTS    time.Time
	started   bool
}

// bucketedClass reports whether a class gets automatic history bucketing.
// Other classes use the manual recording entry point.
func bucketedClass(class models.AssetClass) bool {
	return class == models.AssetClassCrypto || class == models.AssetClassUSEquity
}

// recordBucketLocked advances the bucket state machine for one tick and
// returns the durable points to write. A bucket transition emits exactly two
// points, the close of the old bucket and the open of the new one; the very
// first tick for an asset emits only an open point. Out-of-order ticks never
// rewrite history.
func (s *Service) recordBucketLocked(assetID int64, price float64, ts time.Time) []models.HistoryPoint {
	length := s.cfg.Pipeline.BucketLength
	aligned := ts.Truncate(length)

	b, ok := s.buckets[assetID]
	if !ok {
		s.buckets[assetID] = &bucketState{
			start:     aligned,
			lastPrice: price,
			lastTS:    ts,
			started:   true,
		}
		return []models.HistoryPoint{{AssetID: assetID, Price: price, ObservedAt: ts}}
	}

	if ts.Before(b.lastTS) {
		return nil
	}

	if aligned.Equal(b.start) {
		b.lastPrice = price
		b.lastTS = ts
		if !b.started {
			// Bucket was seeded by direct injection and never recorded its
			// open point.
			b.started = true
			return []models.HistoryPoint{{AssetID: assetID, Price: price, ObservedAt: ts}}
		}
		return nil
	}

	closeAt := b.start.Add(length - time.Millisecond)
	points := []models.HistoryPoint{
		{AssetID: assetID, Price: b.lastPrice, ObservedAt: closeAt},
		{AssetID: assetID, Price: price, ObservedAt: ts},
	}

	b.start = aligned
	b.lastPrice = price
	b.lastTS = ts
	b.started = true
	return points
}

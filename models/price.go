package models

import "time"

// CurrentPrice is the last known in-memory price for one asset.
type CurrentPrice struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceTick is one price observation after symbol resolution, regardless of
// whether it arrived over a streaming feed or a fallback poll.
type PriceTick struct {
	AssetID   int64     `json:"asset_id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// HistoryPoint is one durable entry in the downsampled price history.
type HistoryPoint struct {
	AssetID    int64     `json:"asset_id"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Package store is the relational collaborator of the price subsystem. The
// subsystem touches exactly two surfaces: held-asset lookup and price
// persistence (current price upsert plus the downsampled history log).
package store

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"investflow/models"
)

// Store is the narrow read/write interface the price subsystem consumes.
// Implementations must be safe for concurrent use; the subsystem limits the
// write rate, not the access order.
type Store interface {
	// ListHeldAssets returns assets backed by a positive-quantity holding.
	ListHeldAssets(ctx context.Context) ([]models.TrackedAsset, error)
	// WriteCurrentPrice upserts the cached price fields on the asset record.
	WriteCurrentPrice(ctx context.Context, assetID int64, price float64, observedAt time.Time) error
	// AppendHistoryPoint records one history point. Duplicate
	// (assetID, observedAt) pairs are ignored.
	AppendHistoryPoint(ctx context.Context, assetID int64, price float64, observedAt time.Time) error
}

// Asset is the persisted asset record. Only the current-price cache fields
// are written by this subsystem.
type Asset struct {
	ID             int64  `gorm:"primaryKey"`
	Symbol         string `gorm:"size:32;not null"`
	Name           string `gorm:"size:128"`
	Class          string `gorm:"size:16;not null"`
	Currency       string `gorm:"size:8"`
	CurrentPrice   *float64
	PriceUpdatedAt *time.Time
}

// Holding links an asset to a held quantity.
type Holding struct {
	ID       int64 `gorm:"primaryKey"`
	AssetID  int64 `gorm:"index;not null"`
	Quantity float64
}

// PricePoint is one row of the downsampled price history.
type PricePoint struct {
	ID         int64     `gorm:"primaryKey"`
	AssetID    int64     `gorm:"uniqueIndex:idx_price_points_asset_observed;not null"`
	Price      float64   `gorm:"not null"`
	ObservedAt time.Time `gorm:"uniqueIndex:idx_price_points_asset_observed;not null"`
}

// DB implements Store on top of Postgres through GORM.
type DB struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the subsystem's tables.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Asset{}, &Holding{}, &PricePoint{}); err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// NewDB wraps an existing GORM handle. Used by tests and by callers that
// manage the connection themselves.
func NewDB(db *gorm.DB) *DB {
	return &DB{db: db}
}

func (s *DB) ListHeldAssets(ctx context.Context) ([]models.TrackedAsset, error) {
	var rows []Asset
	err := s.db.WithContext(ctx).
		Distinct("assets.*").
		Joins("JOIN holdings ON holdings.asset_id = assets.id").
		Where("holdings.quantity > 0").
		Order("assets.id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	assets := make([]models.TrackedAsset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, models.TrackedAsset{
			ID:       r.ID,
			Symbol:   r.Symbol,
			Name:     r.Name,
			Class:    models.AssetClass(r.Class),
			Currency: r.Currency,
		})
	}
	return assets, nil
}

func (s *DB) WriteCurrentPrice(ctx context.Context, assetID int64, price float64, observedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&Asset{}).
		Where("id = ?", assetID).
		Updates(map[string]interface{}{
			"current_price":    price,
			"price_updated_at": observedAt,
		}).Error
}

func (s *DB) AppendHistoryPoint(ctx context.Context, assetID int64, price float64, observedAt time.Time) error {
	point := PricePoint{
		AssetID:    assetID,
		Price:      price,
		ObservedAt: observedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&point).Error
}

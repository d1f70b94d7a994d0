package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// GormStore implements the pricebook store interfaces over a GORM handle.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ pricebook.Store = (*GormStore)(nil)

// NewGormStore wraps an already migrated database handle.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger}
}

func (g *GormStore) InsertObservation(ctx context.Context, o *pricebook.Observation) error {
	return g.db.WithContext(ctx).Create(o).Error
}

func (g *GormStore) FingerprintSeen(ctx context.Context, warehouseID uint, hash string, since time.Time) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var count int64
	err := g.db.WithContext(ctx).Model(&pricebook.Observation{}).
		Where("warehouse_id = ? AND image_hash = ? AND observed_at >= ?", warehouseID, hash, since).
		Count(&count).Error
	return count > 0, err
}

func (g *GormStore) RecentByItem(ctx context.Context, warehouseID uint, itemNumber string, limit int) ([]pricebook.Observation, error) {
	var out []pricebook.Observation
	err := g.db.WithContext(ctx).
		Where("warehouse_id = ? AND item_number = ? AND quarantined = ?", warehouseID, itemNumber, false).
		Order("observed_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (g *GormStore) SightingStats(ctx context.Context, warehouseID uint, itemNumber string, now time.Time) (pricebook.SightingStats, error) {
	var stats pricebook.SightingStats
	base := func() *gorm.DB {
		return g.db.WithContext(ctx).Model(&pricebook.Observation{}).
			Where("warehouse_id = ? AND item_number = ? AND quarantined = ?", warehouseID, itemNumber, false)
	}

	var count30, count7 int64
	if err := base().Where("observed_at > ?", now.AddDate(0, 0, -30)).Count(&count30).Error; err != nil {
		return stats, err
	}
	if err := base().Where("observed_at > ?", now.AddDate(0, 0, -7)).Count(&count7).Error; err != nil {
		return stats, err
	}
	stats.Sightings30d = int(count30)
	stats.Sightings7d = int(count7)

	var last sql.NullTime
	if err := base().Select("MAX(observed_at)").Scan(&last).Error; err != nil {
		return stats, err
	}
	if last.Valid {
		t := last.Time.UTC()
		stats.LastSeen = &t
	}
	return stats, nil
}

func (g *GormStore) PriceStats(ctx context.Context, warehouseID uint, itemNumber string, price decimal.Decimal, now time.Time) (pricebook.PriceStats, error) {
	var stats pricebook.PriceStats
	base := func() *gorm.DB {
		return g.db.WithContext(ctx).Model(&pricebook.Observation{}).
			Where("warehouse_id = ? AND item_number = ? AND quarantined = ?", warehouseID, itemNumber, false)
	}
	cut60 := now.AddDate(0, 0, -60)
	cut90 := now.AddDate(0, 0, -90)

	var samePrice int64
	if err := base().Where("observed_at > ? AND price = ?", cut60, price).Count(&samePrice).Error; err != nil {
		return stats, err
	}
	stats.SeenAtPriceCount60d = int(samePrice)

	var lowest sql.NullFloat64
	if err := base().Where("observed_at > ?", cut60).Select("MIN(price)").Scan(&lowest).Error; err != nil {
		return stats, err
	}
	if lowest.Valid {
		d := decimal.NewFromFloat(lowest.Float64).Round(2)
		stats.Lowest60d = &d
	}

	var distinct int64
	if err := base().Where("observed_at > ?", cut60).Distinct("price").Count(&distinct).Error; err != nil {
		return stats, err
	}
	stats.DistinctPrices60d = int(distinct)

	var clearance int64
	if err := base().Where("observed_at > ? AND price_ending = ?", cut90, pricebook.EndingClearance).Count(&clearance).Error; err != nil {
		return stats, err
	}
	stats.ClearanceCount90d = int(clearance)

	var markers int64
	if err := base().Where("observed_at > ? AND has_asterisk = ?", cut90, true).Count(&markers).Error; err != nil {
		return stats, err
	}
	stats.MarkerCount90d = int(markers)

	return stats, nil
}

func (g *GormStore) MeanPrice(ctx context.Context, warehouseID uint, productID uint, since time.Time) (*decimal.Decimal, error) {
	var mean sql.NullFloat64
	err := g.db.WithContext(ctx).Model(&pricebook.Observation{}).
		Where("warehouse_id = ? AND product_id = ? AND quarantined = ? AND observed_at > ?",
			warehouseID, productID, false, since).
		Select("AVG(price)").Scan(&mean).Error
	if err != nil {
		return nil, err
	}
	if !mean.Valid {
		return nil, nil
	}
	d := decimal.NewFromFloat(mean.Float64).Round(2)
	return &d, nil
}

func (g *GormStore) CountObservations(ctx context.Context) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&pricebook.Observation{}).Count(&count).Error
	return count, err
}

func (g *GormStore) ProductByItemNumber(ctx context.Context, itemNumber string) (*pricebook.Product, error) {
	var p pricebook.Product
	err := g.db.WithContext(ctx).Where("item_number = ?", itemNumber).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *GormStore) ProductByID(ctx context.Context, id uint) (*pricebook.Product, error) {
	var p pricebook.Product
	err := g.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *GormStore) GetOrCreateProduct(ctx context.Context, itemNumber, description string) (*pricebook.Product, error) {
	var p pricebook.Product
	err := g.db.WithContext(ctx).
		Where(pricebook.Product{ItemNumber: itemNumber}).
		Attrs(pricebook.Product{Description: description}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *GormStore) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&pricebook.Product{}).Count(&count).Error
	return count, err
}

func (g *GormStore) GetSnapshot(ctx context.Context, warehouseID, productID uint) (*pricebook.Snapshot, error) {
	var s pricebook.Snapshot
	err := g.db.WithContext(ctx).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplySnapshot folds inside a transaction. On PostgreSQL the row is locked
// with FOR UPDATE; SQLite serializes writers on its own.
func (g *GormStore) ApplySnapshot(ctx context.Context, o *pricebook.Observation, productID uint, quality float64) (*pricebook.Snapshot, error) {
	var result *pricebook.Snapshot
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("warehouse_id = ? AND product_id = ?", o.WarehouseID, productID)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var s pricebook.Snapshot
		err := query.First(&s).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			fresh := pricebook.NewSnapshot(o, productID, quality)
			if err := tx.Create(fresh).Error; err != nil {
				return err
			}
			result = fresh
			return nil
		case err != nil:
			return err
		default:
			s.Fold(o, quality)
			if err := tx.Save(&s).Error; err != nil {
				return err
			}
			result = &s
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *GormStore) SnapshotPage(ctx context.Context, offset, limit int) ([]pricebook.Snapshot, error) {
	var out []pricebook.Snapshot
	err := g.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (g *GormStore) UpdateDerived(ctx context.Context, snapshotID uint64, ref30, ref90 *decimal.Decimal, trend pricebook.Trend, freshness pricebook.Freshness) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s pricebook.Snapshot
		err := tx.First(&s, snapshotID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		s.Reference30d = ref30
		s.Reference90d = ref90
		s.PriceTrend = trend
		s.Freshness = freshness
		return tx.Save(&s).Error
	})
}

func (g *GormStore) CountSnapshots(ctx context.Context) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&pricebook.Snapshot{}).Count(&count).Error
	return count, err
}

func (g *GormStore) WarehouseByID(ctx context.Context, id uint) (*pricebook.Warehouse, error) {
	var w pricebook.Warehouse
	err := g.db.WithContext(ctx).First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (g *GormStore) ListWarehouses(ctx context.Context, limit int) ([]pricebook.Warehouse, error) {
	var out []pricebook.Warehouse
	err := g.db.WithContext(ctx).Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (g *GormStore) InsertWarehouse(ctx context.Context, w *pricebook.Warehouse) error {
	return g.db.WithContext(ctx).Create(w).Error
}

func (g *GormStore) CountWarehouses(ctx context.Context) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&pricebook.Warehouse{}).Count(&count).Error
	return count, err
}

func (g *GormStore) ActiveSignals(ctx context.Context, warehouseID uint, itemNumber string, now time.Time, limit int) ([]pricebook.CommunitySignal, error) {
	var out []pricebook.CommunitySignal
	err := g.db.WithContext(ctx).
		Where("warehouse_id = ? AND item_number = ?", warehouseID, itemNumber).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("reported_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (g *GormStore) InsertSignal(ctx context.Context, s *pricebook.CommunitySignal) error {
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *GormStore) DeleteExpiredSignals(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&pricebook.CommunitySignal{})
	return res.RowsAffected, res.Error
}

func (g *GormStore) InsertFeedback(ctx context.Context, f *pricebook.ScanFeedback) error {
	return g.db.WithContext(ctx).Create(f).Error
}

func (g *GormStore) FeedbackByClientID(ctx context.Context, clientID string) (*pricebook.ScanFeedback, error) {
	var f pricebook.ScanFeedback
	err := g.db.WithContext(ctx).Where("client_feedback_id = ?", clientID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (g *GormStore) InsertArtifact(ctx context.Context, a *pricebook.ScanArtifact) error {
	return g.db.WithContext(ctx).Create(a).Error
}

func (g *GormStore) ArtifactBySHA256(ctx context.Context, sha string) (*pricebook.ScanArtifact, error) {
	var a pricebook.ScanArtifact
	err := g.db.WithContext(ctx).Where("sha256 = ?", sha).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (g *GormStore) DeleteExpiredArtifacts(ctx context.Context, now time.Time) ([]pricebook.ScanArtifact, error) {
	var expired []pricebook.ScanArtifact
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("retention_expires < ?", now).Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]uint64, len(expired))
		for i := range expired {
			ids[i] = expired[i].ID
		}
		return tx.Delete(&pricebook.ScanArtifact{}, ids).Error
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

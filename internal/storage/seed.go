package storage

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

//go:embed warehouses.toml
var warehouseSeed []byte

type seedFile struct {
	Warehouses []seedWarehouse `toml:"warehouses"`
}

type seedWarehouse struct {
	StoreNumber string  `toml:"store_number"`
	Name        string  `toml:"name"`
	Address     string  `toml:"address"`
	City        string  `toml:"city"`
	State       string  `toml:"state"`
	ZipCode     string  `toml:"zip_code"`
	Latitude    float64 `toml:"latitude"`
	Longitude   float64 `toml:"longitude"`
	MetroArea   string  `toml:"metro_area"`
}

// SeedWarehouses loads the embedded warehouse catalog on first run. It is
// idempotent: a non-empty catalog is left untouched, so operator edits
// survive restarts.
func SeedWarehouses(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var count int64
	if err := db.Model(&pricebook.Warehouse{}).Count(&count).Error; err != nil {
		return fmt.Errorf("counting warehouses: %w", err)
	}
	if count > 0 {
		logger.Debug("warehouse catalog already populated", zap.Int64("count", count))
		return nil
	}

	var file seedFile
	if err := toml.Unmarshal(warehouseSeed, &file); err != nil {
		return fmt.Errorf("parsing embedded warehouse seed: %w", err)
	}

	for _, sw := range file.Warehouses {
		w := pricebook.Warehouse{
			StoreNumber: sw.StoreNumber,
			Name:        sw.Name,
			Address:     sw.Address,
			City:        sw.City,
			State:       sw.State,
			ZipCode:     sw.ZipCode,
			Latitude:    sw.Latitude,
			Longitude:   sw.Longitude,
			MetroArea:   sw.MetroArea,
		}
		if err := db.Create(&w).Error; err != nil {
			return fmt.Errorf("seeding warehouse %s: %w", sw.StoreNumber, err)
		}
	}

	logger.Info("warehouse catalog seeded", zap.Int("count", len(file.Warehouses)))
	return nil
}

package storage

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, migrate(db))
	return db
}

func TestSeedWarehouses_PopulatesEmptyCatalog(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, SeedWarehouses(db, nil))

	var warehouses []pricebook.Warehouse
	require.NoError(t, db.Find(&warehouses).Error)
	require.NotEmpty(t, warehouses)

	for _, w := range warehouses {
		assert.NotEmpty(t, w.StoreNumber)
		assert.NotEmpty(t, w.Name)
		assert.NotEmpty(t, w.MetroArea)
		assert.NotZero(t, w.Latitude)
		assert.NotZero(t, w.Longitude)
	}
}

func TestSeedWarehouses_Idempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, SeedWarehouses(db, nil))
	var first int64
	require.NoError(t, db.Model(&pricebook.Warehouse{}).Count(&first).Error)

	require.NoError(t, SeedWarehouses(db, nil))
	var second int64
	require.NoError(t, db.Model(&pricebook.Warehouse{}).Count(&second).Error)

	assert.Equal(t, first, second)
}

func TestSeedWarehouses_LeavesOperatorEditsAlone(t *testing.T) {
	db := openTestDB(t)

	custom := pricebook.Warehouse{
		StoreNumber: "9999",
		Name:        "Operator Added",
		Address:     "1 Main St",
		City:        "Testville",
		State:       "WA",
		ZipCode:     "98000",
	}
	require.NoError(t, db.Create(&custom).Error)

	require.NoError(t, SeedWarehouses(db, nil))

	var count int64
	require.NoError(t, db.Model(&pricebook.Warehouse{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "seed must not run against a populated catalog")
}

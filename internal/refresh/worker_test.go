package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aislelabs/pricetagd/internal/events"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

var sweepTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeBlobs struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (f *fakeBlobs) Remove(sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, sha)
	return nil
}

func testWorkerConfig() Config {
	return Config{
		Interval:          time.Hour,
		FreshDays:         7,
		WarmDays:          21,
		ArtifactRetention: 90 * 24 * time.Hour,
	}
}

func newTestWorker(t *testing.T, store pricebook.Store, blobs BlobDeleter) *Worker {
	t.Helper()
	w, err := NewWorker(testWorkerConfig(), store, blobs, nil)
	require.NoError(t, err)
	return w
}

// seedPair creates a product and folds observations at the given ages/prices,
// returning the product id.
func seedPair(t *testing.T, store *pricebook.MemoryStore, itemNumber string, ages []int, prices []string) uint {
	t.Helper()
	require.Equal(t, len(ages), len(prices))
	ctx := context.Background()

	product, err := store.GetOrCreateProduct(ctx, itemNumber, "ITEM "+itemNumber)
	require.NoError(t, err)

	for i := range ages {
		obs := &pricebook.Observation{
			ObservationID: itemNumber + "-" + prices[i],
			WarehouseID:   1,
			ItemNumber:    itemNumber,
			ProductID:     &product.ID,
			Price:         decimal.RequireFromString(prices[i]),
			Channel:       pricebook.ChannelScan,
			Confidence:    0.9,
			ObservedAt:    sweepTime.AddDate(0, 0, -ages[i]),
		}
		require.NoError(t, store.InsertObservation(ctx, obs))
		_, err = store.ApplySnapshot(ctx, obs, product.ID, 0.8)
		require.NoError(t, err)
	}
	return product.ID
}

func TestSweep_RecomputesReferencesAndFreshness(t *testing.T) {
	store := pricebook.NewMemoryStore()
	// Old sightings at 12.00 (90d window only), recent at 9.00: the 30-day
	// mean sits well below the 90-day mean, so the trend is falling.
	productID := seedPair(t, store, "1234567",
		[]int{80, 70, 10},
		[]string{"12.00", "12.00", "9.00"})

	w := newTestWorker(t, store, nil)
	w.Sweep(context.Background(), sweepTime)

	snapshot, err := store.GetSnapshot(context.Background(), 1, productID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	require.NotNil(t, snapshot.Reference30d)
	assert.Equal(t, "9", snapshot.Reference30d.String())
	require.NotNil(t, snapshot.Reference90d)
	assert.Equal(t, "11", snapshot.Reference90d.String())
	assert.Equal(t, pricebook.TrendFalling, snapshot.PriceTrend)
	assert.Equal(t, pricebook.FreshnessWarm, snapshot.Freshness)
}

func TestSweep_FreshnessTiers(t *testing.T) {
	tests := []struct {
		name    string
		daysAgo int
		want    pricebook.Freshness
	}{
		{"seen this week", 3, pricebook.FreshnessFresh},
		{"boundary of fresh", 7, pricebook.FreshnessFresh},
		{"older than a week", 8, pricebook.FreshnessWarm},
		{"older than three weeks", 22, pricebook.FreshnessStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := pricebook.NewMemoryStore()
			productID := seedPair(t, store, "1234567", []int{tt.daysAgo}, []string{"9.99"})

			w := newTestWorker(t, store, nil)
			w.Sweep(context.Background(), sweepTime)

			snapshot, err := store.GetSnapshot(context.Background(), 1, productID)
			require.NoError(t, err)
			require.NotNil(t, snapshot)
			assert.Equal(t, tt.want, snapshot.Freshness)
		})
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name  string
		ref30 string // "" means nil
		ref90 string
		want  pricebook.Trend
	}{
		{"falling", "9.00", "10.00", pricebook.TrendFalling},
		{"rising", "10.50", "10.00", pricebook.TrendRising},
		{"inside the band", "10.10", "10.00", pricebook.TrendStable},
		{"exactly on the band", "10.20", "10.00", pricebook.TrendStable},
		{"missing 30d", "", "10.00", pricebook.TrendStable},
		{"missing 90d", "10.00", "", pricebook.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ref30, ref90 *decimal.Decimal
			if tt.ref30 != "" {
				d := decimal.RequireFromString(tt.ref30)
				ref30 = &d
			}
			if tt.ref90 != "" {
				d := decimal.RequireFromString(tt.ref90)
				ref90 = &d
			}
			assert.Equal(t, tt.want, classifyTrend(ref30, ref90))
		})
	}
}

func TestSweep_ExpiresSignals(t *testing.T) {
	store := pricebook.NewMemoryStore()
	ctx := context.Background()

	past := sweepTime.Add(-time.Hour)
	future := sweepTime.Add(24 * time.Hour)
	require.NoError(t, store.InsertSignal(ctx, &pricebook.CommunitySignal{
		WarehouseID: 1, ItemNumber: "1234567", Type: pricebook.SignalClearance,
		ReportedAt: sweepTime.Add(-48 * time.Hour), ExpiresAt: &past,
	}))
	require.NoError(t, store.InsertSignal(ctx, &pricebook.CommunitySignal{
		WarehouseID: 1, ItemNumber: "1234567", Type: pricebook.SignalPriceDrop,
		ReportedAt: sweepTime.Add(-time.Hour), ExpiresAt: &future,
	}))

	w := newTestWorker(t, store, nil)
	w.Sweep(ctx, sweepTime)

	active, err := store.ActiveSignals(ctx, 1, "1234567", sweepTime, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, pricebook.SignalPriceDrop, active[0].Type)
}

func TestSweep_RemovesExpiredArtifactsAndBlobs(t *testing.T) {
	store := pricebook.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertArtifact(ctx, &pricebook.ScanArtifact{
		ClientArtifactID: "old", SHA256: "aaa", StorageKey: "aa/aaa",
		RetentionExpires: sweepTime.Add(-time.Hour),
	}))
	require.NoError(t, store.InsertArtifact(ctx, &pricebook.ScanArtifact{
		ClientArtifactID: "new", SHA256: "bbb", StorageKey: "bb/bbb",
		RetentionExpires: sweepTime.Add(24 * time.Hour),
	}))

	blobs := &fakeBlobs{}
	w := newTestWorker(t, store, blobs)
	w.Sweep(ctx, sweepTime)

	assert.Equal(t, []string{"aaa"}, blobs.removed)

	kept, err := store.ArtifactBySHA256(ctx, "bbb")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSweep_RetentionDisabled(t *testing.T) {
	store := pricebook.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.InsertArtifact(ctx, &pricebook.ScanArtifact{
		ClientArtifactID: "old", SHA256: "aaa", StorageKey: "aa/aaa",
		RetentionExpires: sweepTime.Add(-time.Hour),
	}))

	cfg := testWorkerConfig()
	cfg.ArtifactRetention = 0
	w, err := NewWorker(cfg, store, nil, nil)
	require.NoError(t, err)

	w.Sweep(ctx, sweepTime)

	kept, err := store.ArtifactBySHA256(ctx, "aaa")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestRecomputePair_TargetsOneSnapshot(t *testing.T) {
	store := pricebook.NewMemoryStore()
	target := seedPair(t, store, "1234567", []int{10}, []string{"9.00"})
	other := seedPair(t, store, "7654321", []int{10}, []string{"5.00"})

	w := newTestWorker(t, store, nil)
	require.NoError(t, w.RecomputePair(context.Background(), 1, target, sweepTime))

	updated, err := store.GetSnapshot(context.Background(), 1, target)
	require.NoError(t, err)
	require.NotNil(t, updated.Reference30d)

	untouched, err := store.GetSnapshot(context.Background(), 1, other)
	require.NoError(t, err)
	assert.Nil(t, untouched.Reference30d)
}

func TestRecomputePair_MissingSnapshotIsNoop(t *testing.T) {
	w := newTestWorker(t, pricebook.NewMemoryStore(), nil)
	assert.NoError(t, w.RecomputePair(context.Background(), 1, 999, sweepTime))
}

func TestHandleEvent_Filtering(t *testing.T) {
	w := newTestWorker(t, pricebook.NewMemoryStore(), nil)
	productID := uint(7)

	w.HandleEvent(events.ObservationEvent{WarehouseID: 1, ProductID: &productID, Quarantined: true})
	w.HandleEvent(events.ObservationEvent{WarehouseID: 1, ProductID: nil})
	assert.Empty(t, w.recomputeCh)

	w.HandleEvent(events.ObservationEvent{WarehouseID: 1, ProductID: &productID})
	require.Len(t, w.recomputeCh, 1)
	queued := <-w.recomputeCh
	assert.Equal(t, pair{warehouseID: 1, productID: 7}, queued)
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	w := newTestWorker(t, pricebook.NewMemoryStore(), nil)

	require.NoError(t, w.Start())
	assert.Error(t, w.Start(), "second start must not spawn a second loop")

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "stop is idempotent")

	// The worker can be restarted after a clean stop.
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
}

func TestNewWorker_NilStore(t *testing.T) {
	_, err := NewWorker(testWorkerConfig(), nil, nil, nil)
	require.Error(t, err)
}

package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aislelabs/pricetagd/internal/config"
	"github.com/aislelabs/pricetagd/internal/events"
	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.ObservationEvent
	err    error
}

func (p *capturePublisher) PublishObservation(_ context.Context, event events.ObservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published() []events.ObservationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ObservationEvent(nil), p.events...)
}

func testIngestConfig() config.IngestConfig {
	return config.Default().Ingest
}

func newTestService(t *testing.T) (*Service, *pricebook.MemoryStore, *capturePublisher) {
	t.Helper()
	store := pricebook.NewMemoryStore()
	pub := &capturePublisher{}
	svc, err := NewService(testIngestConfig(), store, pub, nil)
	require.NoError(t, err)
	return svc, store, pub
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func goodReading(itemNumber, priceStr, hash string) extraction.CandidateReading {
	reading := extraction.CandidateReading{
		ItemNumber:  itemNumber,
		Price:       price(priceStr),
		Description: "KIRKLAND ORGANIC HONEY",
		ImageHash:   hash,
		RawText:     "KIRKLAND ORGANIC HONEY " + itemNumber + " " + priceStr,
		Confidence:  0.92,
		Success:     true,
	}
	reading.PriceEnding = pricebook.EndingFromPrice(*reading.Price)
	return reading
}

func scanContext() Context {
	return Context{
		WarehouseID: 1,
		Channel:     pricebook.ChannelScan,
		SessionID:   "sess-1",
		ClientHash:  "client-abcdef",
	}
}

func TestIngest_AcceptedFoldsSnapshot(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()

	receipt, err := svc.Ingest(ctx, goodReading("1234567", "9.97", "hash-a"), scanContext())
	require.NoError(t, err)

	require.NotNil(t, receipt.Observation)
	assert.False(t, receipt.Observation.Quarantined)
	assert.NotEmpty(t, receipt.Observation.ObservationID)
	assert.True(t, receipt.Folded)

	require.NotNil(t, receipt.Snapshot)
	assert.Equal(t, "9.97", receipt.Snapshot.CurrentPrice.StringFixed(2))
	assert.Equal(t, pricebook.EndingClearance, receipt.Snapshot.PriceEnding)
	assert.Equal(t, 1, receipt.Snapshot.ObservationCount)
	// quality = scan weight 0.85 x confidence 0.92
	assert.InDelta(t, 0.782, receipt.Snapshot.QualityScore, 0.001)

	product, err := store.ProductByItemNumber(ctx, "1234567")
	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, "KIRKLAND ORGANIC HONEY", product.Description)

	published := pub.published()
	require.Len(t, published, 1)
	assert.False(t, published[0].Quarantined)
	assert.Equal(t, receipt.Observation.ObservationID, published[0].ObservationID)
}

func TestIngest_QuarantinePriority(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*extraction.CandidateReading)
		wantReason pricebook.QuarantineReason
	}{
		{
			name:       "low confidence",
			mutate:     func(r *extraction.CandidateReading) { r.Confidence = 0.40 },
			wantReason: pricebook.QuarantineLowConfidence,
		},
		{
			name: "price too low",
			mutate: func(r *extraction.CandidateReading) {
				r.Price = price("0.00")
			},
			wantReason: pricebook.QuarantinePriceTooLow,
		},
		{
			name: "price too high",
			mutate: func(r *extraction.CandidateReading) {
				r.Price = price("5000.01")
			},
			wantReason: pricebook.QuarantinePriceTooHigh,
		},
		{
			name: "low confidence outranks bad price",
			mutate: func(r *extraction.CandidateReading) {
				r.Confidence = 0.10
				r.Price = price("9999")
			},
			wantReason: pricebook.QuarantineLowConfidence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t)
			ctx := context.Background()

			reading := goodReading("1234567", "9.97", "hash-"+tt.name)
			tt.mutate(&reading)

			receipt, err := svc.Ingest(ctx, reading, scanContext())
			require.NoError(t, err)

			assert.True(t, receipt.Observation.Quarantined)
			assert.Equal(t, tt.wantReason, receipt.Observation.QuarantineReason)
			assert.False(t, receipt.Folded)
			assert.Nil(t, receipt.Snapshot)

			// Quarantined observations never touch the snapshot.
			product, err := store.ProductByItemNumber(ctx, "1234567")
			require.NoError(t, err)
			require.NotNil(t, product)
			snapshot, err := store.GetSnapshot(ctx, 1, product.ID)
			require.NoError(t, err)
			assert.Nil(t, snapshot)
		})
	}
}

func TestIngest_DuplicateImageOutranksEverything(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, goodReading("1234567", "9.97", "hash-dup"), scanContext())
	require.NoError(t, err)
	assert.False(t, first.Observation.Quarantined)

	// Resubmit the same image with garbage fields; duplicate wins over the
	// low-confidence and price rules.
	reading := goodReading("1234567", "9999", "hash-dup")
	reading.Confidence = 0.10

	second, err := svc.Ingest(ctx, reading, scanContext())
	require.NoError(t, err)

	assert.True(t, second.Observation.Quarantined)
	assert.Equal(t, pricebook.QuarantineDuplicateImage, second.Observation.QuarantineReason)

	published := pub.published()
	require.Len(t, published, 2)
	assert.True(t, published[1].Quarantined)
	assert.Equal(t, "duplicate_image", published[1].Reason)
}

func TestIngest_NoItemNumberStillRecorded(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	reading := extraction.CandidateReading{
		Price:      price("4.99"),
		ImageHash:  "hash-partial",
		Confidence: 0.80,
	}

	receipt, err := svc.Ingest(ctx, reading, scanContext())
	require.NoError(t, err)

	assert.False(t, receipt.Folded)
	assert.Nil(t, receipt.Snapshot)
	assert.Nil(t, receipt.Observation.ProductID)

	count, err := store.CountObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestIngest_PublishFailureDoesNotFail(t *testing.T) {
	store := pricebook.NewMemoryStore()
	pub := &capturePublisher{err: assert.AnError}
	svc, err := NewService(testIngestConfig(), store, pub, nil)
	require.NoError(t, err)

	receipt, err := svc.Ingest(context.Background(), goodReading("1234567", "9.97", "hash-p"), scanContext())
	require.NoError(t, err)
	assert.True(t, receipt.Folded)
}

func TestIngestManual_FixedConfidence(t *testing.T) {
	svc, _, _ := newTestService(t)

	receipt, err := svc.IngestManual(context.Background(), ManualEntry{
		ItemNumber:  "7654321",
		Price:       decimal.RequireFromString("12.49"),
		Description: "PAPER TOWELS",
	}, Context{WarehouseID: 1, SessionID: "sess-m"})
	require.NoError(t, err)

	obs := receipt.Observation
	assert.Equal(t, pricebook.ChannelManual, obs.Channel)
	assert.InDelta(t, 0.70, obs.Confidence, 0.001)
	assert.Equal(t, pricebook.EndingMfrDiscount, obs.PriceEnding)
	assert.Empty(t, obs.ImageHash)
	assert.False(t, obs.Quarantined)

	require.True(t, receipt.Folded)
	// quality = manual weight 1.00 x fixed confidence 0.70
	assert.InDelta(t, 0.70, receipt.Snapshot.QualityScore, 0.001)
}

func TestIngestManual_SkipsDuplicateAndConfidenceChecks(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Seed a scan so a fingerprint exists in the window.
	_, err := svc.Ingest(ctx, goodReading("1234567", "9.97", "hash-m"), scanContext())
	require.NoError(t, err)

	receipt, err := svc.IngestManual(ctx, ManualEntry{
		ItemNumber: "1234567",
		Price:      decimal.RequireFromString("8.97"),
	}, Context{WarehouseID: 1})
	require.NoError(t, err)

	assert.False(t, receipt.Observation.Quarantined)
	assert.True(t, receipt.Folded)
	assert.Equal(t, "8.97", receipt.Snapshot.CurrentPrice.StringFixed(2))
	assert.Equal(t, 2, receipt.Snapshot.ObservationCount)
}

func TestIngestManual_PriceSanityStillApplies(t *testing.T) {
	svc, _, _ := newTestService(t)

	receipt, err := svc.IngestManual(context.Background(), ManualEntry{
		ItemNumber: "1234567",
		Price:      decimal.RequireFromString("6000"),
	}, Context{WarehouseID: 1})
	require.NoError(t, err)

	assert.True(t, receipt.Observation.Quarantined)
	assert.Equal(t, pricebook.QuarantinePriceTooHigh, receipt.Observation.QuarantineReason)
	assert.False(t, receipt.Folded)
}

func TestIngestManual_RequiredFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestManual(ctx, ManualEntry{Price: decimal.RequireFromString("9.99")}, Context{WarehouseID: 1})
	assert.ErrorIs(t, err, ErrNoItemNumber)

	_, err = svc.IngestManual(ctx, ManualEntry{ItemNumber: "1234567"}, Context{WarehouseID: 1})
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestIngest_EndingOverride(t *testing.T) {
	svc, _, _ := newTestService(t)

	receipt, err := svc.IngestManual(context.Background(), ManualEntry{
		ItemNumber: "1234567",
		Price:      decimal.RequireFromString("9.99"),
		Ending:     pricebook.EndingClearance,
	}, Context{WarehouseID: 1})
	require.NoError(t, err)

	assert.Equal(t, pricebook.EndingClearance, receipt.Observation.PriceEnding)
}

func TestIngest_ConcurrentFoldsCountEveryObservation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			reading := goodReading("1234567", "9.97", "")
			_, err := svc.Ingest(ctx, reading, scanContext())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	product, err := store.ProductByItemNumber(ctx, "1234567")
	require.NoError(t, err)
	require.NotNil(t, product)

	snapshot, err := store.GetSnapshot(ctx, 1, product.ID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, workers, snapshot.ObservationCount)
}

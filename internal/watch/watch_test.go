package watch

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

var evalTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func seedObservation(t *testing.T, store *pricebook.MemoryStore, daysAgo int, price string, ending pricebook.PriceEnding, asterisk bool) {
	t.Helper()
	err := store.InsertObservation(context.Background(), &pricebook.Observation{
		ObservationID: "obs-" + price,
		WarehouseID:   1,
		ItemNumber:    "1234567",
		Price:         decimal.RequireFromString(price),
		PriceEnding:   ending,
		HasAsterisk:   asterisk,
		Channel:       pricebook.ChannelScan,
		Confidence:    0.9,
		ObservedAt:    evalTime.Add(-time.Duration(daysAgo) * 24 * time.Hour),
	})
	require.NoError(t, err)
}

func statusFor(t *testing.T, store *pricebook.MemoryStore) ItemStatus {
	t.Helper()
	svc, err := NewService(store, nil)
	require.NoError(t, err)

	statuses, err := svc.Status(context.Background(), []WatchedItem{
		{WarehouseID: 1, ItemNumber: "1234567"},
	}, evalTime)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	return statuses[0]
}

func TestStatus_NoData(t *testing.T) {
	status := statusFor(t, pricebook.NewMemoryStore())

	assert.Equal(t, []Change{ChangeNoData}, status.Changes)
	assert.Nil(t, status.LastSeenDays)
}

func TestStatus_SingleObservationOnlyDisappears(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 20, "9.99", pricebook.EndingStandard, false)

	status := statusFor(t, store)

	assert.Equal(t, []Change{ChangeDisappeared}, status.Changes)
	require.NotNil(t, status.LastSeenDays)
	assert.Equal(t, 20, *status.LastSeenDays)
}

func TestStatus_RecentSingleObservationReportsNothing(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 2, "9.99", pricebook.EndingStandard, false)

	status := statusFor(t, store)

	assert.Empty(t, status.Changes)
	require.NotNil(t, status.LastSeenDays)
	assert.Equal(t, 2, *status.LastSeenDays)
}

func TestStatus_PriceDropToClearance(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 10, "12.99", pricebook.EndingStandard, false)
	seedObservation(t, store, 1, "9.97", pricebook.EndingClearance, false)

	status := statusFor(t, store)

	assert.ElementsMatch(t, []Change{ChangePriceChanged, ChangeBecameClearance, ChangeDecisionChanged}, status.Changes)
	require.NotNil(t, status.Price)
	assert.Equal(t, "12.99", status.Price.Old.StringFixed(2))
	assert.Equal(t, "9.97", status.Price.New.StringFixed(2))
	assert.Equal(t, "OK_PRICE", status.PreviousVerdict)
	assert.Equal(t, "BUY_NOW", status.CurrentVerdict)
}

func TestStatus_SubCentMoveIgnored(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 5, "9.99", pricebook.EndingStandard, false)
	seedObservation(t, store, 1, "9.98", pricebook.EndingStandard, false)

	status := statusFor(t, store)

	assert.Empty(t, status.Changes)
	assert.Nil(t, status.Price)
}

func TestStatus_DecisionChangeWithoutPriceMove(t *testing.T) {
	// Same price, but the tag gained a discontinuation marker.
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 5, "9.99", pricebook.EndingStandard, false)
	seedObservation(t, store, 1, "9.99", pricebook.EndingStandard, true)

	status := statusFor(t, store)

	assert.Equal(t, []Change{ChangeDecisionChanged}, status.Changes)
	assert.Equal(t, "OK_PRICE", status.PreviousVerdict)
	assert.Equal(t, "BUY_NOW", status.CurrentVerdict)
}

func TestStatus_RegularPriceFlipsToWait(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 5, "9.99", pricebook.EndingStandard, false)
	seedObservation(t, store, 1, "10.00", pricebook.EndingRegular, false)

	status := statusFor(t, store)

	assert.Contains(t, status.Changes, ChangePriceChanged)
	assert.Contains(t, status.Changes, ChangeDecisionChanged)
	assert.Equal(t, "WAIT_IF_YOU_CAN", status.CurrentVerdict)
}

func TestStatus_QuarantinedObservationsInvisible(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 5, "9.99", pricebook.EndingStandard, false)
	require.NoError(t, store.InsertObservation(context.Background(), &pricebook.Observation{
		ObservationID: "obs-q",
		WarehouseID:   1,
		ItemNumber:    "1234567",
		Price:         decimal.RequireFromString("99.99"),
		Channel:       pricebook.ChannelScan,
		Quarantined:   true,
		ObservedAt:    evalTime.Add(-1 * time.Hour),
	}))

	status := statusFor(t, store)

	// The quarantined reading neither counts as a sighting nor as a price.
	assert.Empty(t, status.Changes)
	require.NotNil(t, status.LastSeenDays)
	assert.Equal(t, 5, *status.LastSeenDays)
}

func TestStatus_MultipleItemsKeepOrder(t *testing.T) {
	store := pricebook.NewMemoryStore()
	seedObservation(t, store, 2, "9.99", pricebook.EndingStandard, false)

	svc, err := NewService(store, nil)
	require.NoError(t, err)

	statuses, err := svc.Status(context.Background(), []WatchedItem{
		{WarehouseID: 1, ItemNumber: "7654321"},
		{WarehouseID: 1, ItemNumber: "1234567"},
	}, evalTime)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, "7654321", statuses[0].ItemNumber)
	assert.Equal(t, []Change{ChangeNoData}, statuses[0].Changes)
	assert.Equal(t, "1234567", statuses[1].ItemNumber)
	assert.Empty(t, statuses[1].Changes)
}

func TestNewService_NilStore(t *testing.T) {
	_, err := NewService(nil, nil)
	require.Error(t, err)
}

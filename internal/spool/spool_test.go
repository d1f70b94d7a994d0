package spool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/ingest"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, imageBytes []byte) extraction.CandidateReading {
	price := decimal.RequireFromString("9.97")
	return extraction.CandidateReading{
		ItemNumber: "1234567",
		Price:      &price,
		RawText:    string(imageBytes),
		Confidence: 0.9,
		Success:    true,
	}
}

type fakeIngestor struct {
	mu    sync.Mutex
	calls []ingest.Context
	err   error
}

func (f *fakeIngestor) Ingest(_ context.Context, _ extraction.CandidateReading, sub ingest.Context) (*ingest.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, sub)
	return &ingest.Receipt{Observation: &pricebook.Observation{ObservationID: "obs-1"}, Folded: true}, nil
}

func (f *fakeIngestor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeIngestor) lastCall() ingest.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestWatcher(t *testing.T, dir string, ing *fakeIngestor) *Watcher {
	t.Helper()
	w, err := NewWatcher(dir, 1, fakeExtractor{}, ing, nil)
	require.NoError(t, err)
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_ProcessesDroppedFile(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngestor{}
	w := newTestWatcher(t, dir, ing)

	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(dir, "483__endcap.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake image"), 0o644))

	waitFor(t, func() bool { return ing.callCount() == 1 })

	call := ing.lastCall()
	assert.EqualValues(t, 483, call.WarehouseID)
	assert.Equal(t, "spool:483__endcap.jpg", call.SessionID)

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, doneDir, "483__endcap.jpg"))
		return err == nil
	})
}

func TestWatcher_DefaultWarehouseWithoutPrefix(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngestor{}
	w := newTestWatcher(t, dir, ing)

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), []byte("img"), 0o644))

	waitFor(t, func() bool { return ing.callCount() == 1 })
	assert.EqualValues(t, 1, ing.lastCall().WarehouseID)
}

func TestWatcher_IgnoresNonImageFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngestor{}
	w := newTestWatcher(t, dir, ing)

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tag.jpeg"), []byte("img"), 0o644))

	waitFor(t, func() bool { return ing.callCount() == 1 })

	// The text file stays where it was dropped.
	_, err := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestWatcher_FailedIngestMovesToFailed(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngestor{err: assert.AnError}
	w := newTestWatcher(t, dir, ing)

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jpg"), []byte("img"), 0o644))

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, failedDir, "bad.jpg"))
		return err == nil
	})
}

func TestWatcher_ProcessesBacklogOnStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stranded.jpg"), []byte("img"), 0o644))

	ing := &fakeIngestor{}
	w := newTestWatcher(t, dir, ing)
	require.NoError(t, w.Start())
	defer w.Stop()

	waitFor(t, func() bool { return ing.callCount() == 1 })
}

func TestWatcher_StartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir, &fakeIngestor{})

	require.NoError(t, w.Start())
	assert.Error(t, w.Start())
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())

	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
}

func TestNewWatcher_Validation(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWatcher("", 1, fakeExtractor{}, &fakeIngestor{}, nil)
	assert.Error(t, err)

	_, err = NewWatcher(filepath.Join(dir, "missing"), 1, fakeExtractor{}, &fakeIngestor{}, nil)
	assert.Error(t, err)

	_, err = NewWatcher(dir, 1, nil, &fakeIngestor{}, nil)
	assert.Error(t, err)

	_, err = NewWatcher(dir, 1, fakeExtractor{}, nil, nil)
	assert.Error(t, err)
}

func TestWarehouseFor(t *testing.T) {
	w := &Watcher{defaultWarehouse: 42}

	tests := []struct {
		name string
		file string
		want uint
	}{
		{"prefixed", "483__endcap.jpg", 483},
		{"no prefix", "endcap.jpg", 42},
		{"non-numeric prefix", "aisle__endcap.jpg", 42},
		{"zero prefix", "0__endcap.jpg", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.warehouseFor(tt.file))
		})
	}
}

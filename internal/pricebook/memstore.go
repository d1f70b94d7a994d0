package pricebook

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory implementation of Store. It backs tests and
// the storage-free dev mode; all methods are safe for concurrent use. The
// single mutex also provides the per-(warehouse, product) fold serialization
// ApplySnapshot requires.
type MemoryStore struct {
	mu sync.RWMutex

	observations []Observation
	products     map[string]*Product // item number -> product
	snapshots    map[[2]uint]*Snapshot
	warehouses   map[uint]*Warehouse
	signals      []CommunitySignal
	feedback     map[string]*ScanFeedback // client feedback id
	artifacts    map[string]*ScanArtifact // client artifact id

	nextObservationID uint64
	nextProductID     uint
	nextSnapshotID    uint64
	nextWarehouseID   uint
	nextSignalID      uint64
	nextFeedbackID    uint64
	nextArtifactID    uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[string]*Product),
		snapshots:  make(map[[2]uint]*Snapshot),
		warehouses: make(map[uint]*Warehouse),
		feedback:   make(map[string]*ScanFeedback),
		artifacts:  make(map[string]*ScanArtifact),
	}
}

func (m *MemoryStore) InsertObservation(_ context.Context, o *Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextObservationID++
	o.ID = m.nextObservationID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.observations = append(m.observations, *o)
	return nil
}

func (m *MemoryStore) FingerprintSeen(_ context.Context, warehouseID uint, hash string, since time.Time) (bool, error) {
	if hash == "" {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.observations {
		o := &m.observations[i]
		if o.WarehouseID == warehouseID && o.ImageHash == hash && !o.ObservedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) RecentByItem(_ context.Context, warehouseID uint, itemNumber string, limit int) ([]Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Observation
	for i := range m.observations {
		o := m.observations[i]
		if o.WarehouseID == warehouseID && o.ItemNumber == itemNumber && !o.Quarantined {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SightingStats(_ context.Context, warehouseID uint, itemNumber string, now time.Time) (SightingStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats SightingStats
	cut30 := now.AddDate(0, 0, -30)
	cut7 := now.AddDate(0, 0, -7)
	for i := range m.observations {
		o := &m.observations[i]
		if o.WarehouseID != warehouseID || o.ItemNumber != itemNumber || o.Quarantined {
			continue
		}
		if o.ObservedAt.After(cut30) {
			stats.Sightings30d++
		}
		if o.ObservedAt.After(cut7) {
			stats.Sightings7d++
		}
		if stats.LastSeen == nil || o.ObservedAt.After(*stats.LastSeen) {
			t := o.ObservedAt
			stats.LastSeen = &t
		}
	}
	return stats, nil
}

func (m *MemoryStore) PriceStats(_ context.Context, warehouseID uint, itemNumber string, price decimal.Decimal, now time.Time) (PriceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats PriceStats
	cut60 := now.AddDate(0, 0, -60)
	cut90 := now.AddDate(0, 0, -90)
	distinct := make(map[string]struct{})
	for i := range m.observations {
		o := &m.observations[i]
		if o.WarehouseID != warehouseID || o.ItemNumber != itemNumber || o.Quarantined {
			continue
		}
		if o.ObservedAt.After(cut60) {
			if o.Price.Equal(price) {
				stats.SeenAtPriceCount60d++
			}
			if stats.Lowest60d == nil || o.Price.LessThan(*stats.Lowest60d) {
				p := o.Price
				stats.Lowest60d = &p
			}
			distinct[o.Price.String()] = struct{}{}
		}
		if o.ObservedAt.After(cut90) {
			if o.PriceEnding == EndingClearance {
				stats.ClearanceCount90d++
			}
			if o.HasAsterisk {
				stats.MarkerCount90d++
			}
		}
	}
	stats.DistinctPrices60d = len(distinct)
	return stats, nil
}

func (m *MemoryStore) MeanPrice(_ context.Context, warehouseID uint, productID uint, since time.Time) (*decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	count := 0
	for i := range m.observations {
		o := &m.observations[i]
		if o.WarehouseID != warehouseID || o.ProductID == nil || *o.ProductID != productID || o.Quarantined {
			continue
		}
		if o.ObservedAt.After(since) {
			sum = sum.Add(o.Price)
			count++
		}
	}
	if count == 0 {
		return nil, nil
	}
	mean := sum.Div(decimal.NewFromInt(int64(count))).Round(2)
	return &mean, nil
}

func (m *MemoryStore) CountObservations(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.observations)), nil
}

func (m *MemoryStore) ProductByItemNumber(_ context.Context, itemNumber string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.products[itemNumber]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) ProductByID(_ context.Context, id uint) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.products {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetOrCreateProduct(_ context.Context, itemNumber, description string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.products[itemNumber]; ok {
		cp := *p
		return &cp, nil
	}
	m.nextProductID++
	now := time.Now().UTC()
	p := &Product{
		ID:          m.nextProductID,
		ItemNumber:  itemNumber,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.products[itemNumber] = p
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CountProducts(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.products)), nil
}

func (m *MemoryStore) GetSnapshot(_ context.Context, warehouseID, productID uint) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.snapshots[[2]uint{warehouseID, productID}]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) ApplySnapshot(_ context.Context, o *Observation, productID uint, quality float64) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := [2]uint{o.WarehouseID, productID}
	if s, ok := m.snapshots[key]; ok {
		s.Fold(o, quality)
		s.UpdatedAt = time.Now().UTC()
		cp := *s
		return &cp, nil
	}
	s := NewSnapshot(o, productID, quality)
	m.nextSnapshotID++
	s.ID = m.nextSnapshotID
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.snapshots[key] = s
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SnapshotPage(_ context.Context, offset, limit int) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) UpdateDerived(_ context.Context, snapshotID uint64, ref30, ref90 *decimal.Decimal, trend Trend, freshness Freshness) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.snapshots {
		if s.ID == snapshotID {
			s.Reference30d = ref30
			s.Reference90d = ref90
			s.PriceTrend = trend
			s.Freshness = freshness
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) CountSnapshots(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.snapshots)), nil
}

func (m *MemoryStore) WarehouseByID(_ context.Context, id uint) (*Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.warehouses[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListWarehouses(_ context.Context, limit int) ([]Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Warehouse, 0, len(m.warehouses))
	for _, w := range m.warehouses {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertWarehouse(_ context.Context, w *Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.ID == 0 {
		m.nextWarehouseID++
		w.ID = m.nextWarehouseID
	} else if w.ID > m.nextWarehouseID {
		m.nextWarehouseID = w.ID
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	cp := *w
	m.warehouses[w.ID] = &cp
	return nil
}

func (m *MemoryStore) CountWarehouses(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.warehouses)), nil
}

func (m *MemoryStore) ActiveSignals(_ context.Context, warehouseID uint, itemNumber string, now time.Time, limit int) ([]CommunitySignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CommunitySignal
	for i := range m.signals {
		s := m.signals[i]
		if s.WarehouseID == warehouseID && s.ItemNumber == itemNumber && s.Active(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.After(out[j].ReportedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertSignal(_ context.Context, s *CommunitySignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSignalID++
	s.ID = m.nextSignalID
	if s.ReportedAt.IsZero() {
		s.ReportedAt = time.Now().UTC()
	}
	m.signals = append(m.signals, *s)
	return nil
}

func (m *MemoryStore) DeleteExpiredSignals(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.signals[:0]
	var removed int64
	for i := range m.signals {
		if m.signals[i].Active(now) {
			kept = append(kept, m.signals[i])
		} else {
			removed++
		}
	}
	m.signals = kept
	return removed, nil
}

func (m *MemoryStore) InsertFeedback(_ context.Context, f *ScanFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFeedbackID++
	f.ID = m.nextFeedbackID
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	cp := *f
	m.feedback[f.ClientFeedbackID] = &cp
	return nil
}

func (m *MemoryStore) FeedbackByClientID(_ context.Context, clientID string) (*ScanFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if f, ok := m.feedback[clientID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) InsertArtifact(_ context.Context, a *ScanArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextArtifactID++
	a.ID = m.nextArtifactID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.artifacts[a.ClientArtifactID] = &cp
	return nil
}

func (m *MemoryStore) ArtifactBySHA256(_ context.Context, sha string) (*ScanArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.artifacts {
		if a.SHA256 == sha {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) DeleteExpiredArtifacts(_ context.Context, now time.Time) ([]ScanArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []ScanArtifact
	for id, a := range m.artifacts {
		if a.RetentionExpires.Before(now) {
			removed = append(removed, *a)
			delete(m.artifacts, id)
		}
	}
	return removed, nil
}

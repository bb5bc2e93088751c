package database

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// history is the append-only record list of one signature. Writers serialize on mu;
// readers load the published slice without locking.
type history struct {
	mu      sync.Mutex
	seen    map[dedupKey]struct{}
	records atomic.Pointer[[]Record]
}

func (h *history) snapshot() []Record {
	p := h.records.Load()
	if p == nil {
		return nil
	}
	return *p
}

// MemoryDatabase keeps history in process memory
type MemoryDatabase struct {
	mu      sync.RWMutex
	shards  map[string]*history
	models  map[string][]byte
	nextID  atomic.Int64
	closed  atomic.Bool
	nowFunc func() time.Time
}

// NewMemoryDatabase returns an empty in-memory database
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		shards:  make(map[string]*history),
		models:  make(map[string][]byte),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (d *MemoryDatabase) shard(signature string, create bool) *history {
	d.mu.RLock()
	h, ok := d.shards[signature]
	d.mu.RUnlock()
	if ok || !create {
		return h
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok = d.shards[signature]; ok {
		return h
	}
	h = &history{seen: make(map[dedupKey]struct{})}
	d.shards[signature] = h
	return h
}

// Insert implements Database
func (d *MemoryDatabase) Insert(_ context.Context, rec Record) error {
	if d.closed.Load() {
		return ErrClosed
	}
	h := d.shard(rec.Signature, true)

	h.mu.Lock()
	defer h.mu.Unlock()
	k := dedupKey{key: rec.ScheduleKey, cost: rec.Cost}
	if _, dup := h.seen[k]; dup {
		return nil
	}
	h.seen[k] = struct{}{}

	rec.ID = d.nextID.Add(1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.nowFunc()
	}
	rec.ScheduleJSON = append([]byte(nil), rec.ScheduleJSON...)
	next := append(h.snapshot(), rec)
	h.records.Store(&next)
	return nil
}

// Lookup implements Database
func (d *MemoryDatabase) Lookup(_ context.Context, signature string) ([]Record, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	h := d.shard(signature, false)
	if h == nil {
		return []Record{}, nil
	}
	snap := h.snapshot()
	out := make([]Record, len(snap))
	copy(out, snap)
	return out, nil
}

// TopK implements Database
func (d *MemoryDatabase) TopK(ctx context.Context, signature string, k int) ([]Record, error) {
	recs, err := d.Lookup(ctx, signature)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Cost < recs[j].Cost })
	if k >= 0 && len(recs) > k {
		recs = recs[:k]
	}
	return recs, nil
}

// Count implements Database
func (d *MemoryDatabase) Count(_ context.Context, signature string) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	h := d.shard(signature, false)
	if h == nil {
		return 0, nil
	}
	return len(h.snapshot()), nil
}

// Signatures implements Database
func (d *MemoryDatabase) Signatures(_ context.Context) ([]string, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.shards))
	for sig, h := range d.shards {
		if len(h.snapshot()) > 0 {
			out = append(out, sig)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SaveModel implements ModelStore
func (d *MemoryDatabase) SaveModel(_ context.Context, name string, data []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.models[name] = append([]byte(nil), data...)
	return nil
}

// LoadModel implements ModelStore
func (d *MemoryDatabase) LoadModel(_ context.Context, name string) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.models[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// Close implements Database
func (d *MemoryDatabase) Close() error {
	d.closed.Store(true)
	return nil
}

package rawstore

import (
	"context"
	"sync"
	"time"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
)

// Memory is an in-process Store with the same semantics as Postgres.
// It backs tests and has no durability.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   []*Row
	byExt  map[string]*Row
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byExt: make(map[string]*Row), now: time.Now}
}

func (m *Memory) Upsert(_ context.Context, item adapter.RawItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byExt[item.ExternalID]; exists {
		return false, nil
	}
	m.nextID++
	row := &Row{ID: m.nextID, Item: item, CreatedAt: m.now()}
	m.rows = append(m.rows, row)
	m.byExt[item.ExternalID] = row
	return true, nil
}

func (m *Memory) SelectUnprocessed(_ context.Context, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, r := range m.rows {
		if r.Processed {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			r.Processed = true
			return nil
		}
	}
	return nil
}

// Row returns a copy of the stored row by external id, for assertions.
func (m *Memory) Row(externalID string) (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byExt[externalID]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

// Package rawstore persists fetched raw items in PostgreSQL and hands out
// batches of unprocessed rows to the sweep.
package rawstore

import (
	"context"
	"time"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
)

// Row is a persisted RawItem plus processing bookkeeping.
type Row struct {
	ID        int64
	Item      adapter.RawItem
	Processed bool
	CreatedAt time.Time
}

// Store is the durable, idempotent raw item queue. Upsert reports whether
// the row was freshly inserted; re-upserting an existing external_id is a
// no-op. MarkProcessed is idempotent.
type Store interface {
	Upsert(ctx context.Context, item adapter.RawItem) (bool, error)
	SelectUnprocessed(ctx context.Context, limit int) ([]Row, error)
	MarkProcessed(ctx context.Context, id int64) error
}

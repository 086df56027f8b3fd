package rawstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enjin-dev/enjin-ingest/engine/adapter"
)

const ensureTableSQL = `
CREATE TABLE IF NOT EXISTS raw_items (
    id              BIGSERIAL PRIMARY KEY,
    source_adapter  TEXT NOT NULL,
    external_id     TEXT NOT NULL UNIQUE,
    title           TEXT NOT NULL,
    content         TEXT,
    summary         TEXT,
    authors         JSONB DEFAULT '[]',
    published_at    TIMESTAMPTZ,
    source_url      TEXT,
    metadata        JSONB DEFAULT '{}',
    processed       BOOLEAN DEFAULT FALSE,
    created_at      TIMESTAMPTZ DEFAULT NOW()
)`

const upsertSQL = `
INSERT INTO raw_items (source_adapter, external_id, title, content, summary,
                       authors, published_at, source_url, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (external_id) DO NOTHING`

const selectUnprocessedSQL = `
SELECT id, source_adapter, external_id, title,
       COALESCE(content, ''), COALESCE(summary, ''),
       authors, published_at, COALESCE(source_url, ''), metadata, created_at
FROM raw_items
WHERE processed = FALSE
ORDER BY created_at ASC
LIMIT $1`

const markProcessedSQL = `UPDATE raw_items SET processed = TRUE WHERE id = $1`

// Postgres implements Store on a pgx connection pool. The raw_items table
// is created on first use.
type Postgres struct {
	pool      *pgxpool.Pool
	ensure    sync.Once
	ensureErr error
}

// NewPostgres connects a pool to dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("rawstore: parse dsn: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("rawstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rawstore: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) ensureTable(ctx context.Context) error {
	p.ensure.Do(func() {
		_, p.ensureErr = p.pool.Exec(ctx, ensureTableSQL)
	})
	return p.ensureErr
}

// Upsert inserts item unless its external_id already exists. Returns
// whether a new row was created.
func (p *Postgres) Upsert(ctx context.Context, item adapter.RawItem) (bool, error) {
	if err := p.ensureTable(ctx); err != nil {
		return false, fmt.Errorf("rawstore: ensure table: %w", err)
	}

	authors := item.Authors
	if authors == nil {
		authors = []string{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return false, fmt.Errorf("rawstore: encode authors: %w", err)
	}
	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("rawstore: encode metadata: %w", err)
	}

	tag, err := p.pool.Exec(ctx, upsertSQL,
		item.SourceAdapter, item.ExternalID, item.Title,
		nullable(item.Content), nullable(item.Summary),
		authorsJSON, item.PublishedAt, nullable(item.SourceURL), metadataJSON,
	)
	if err != nil {
		return false, fmt.Errorf("rawstore: upsert %s: %w", item.ExternalID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SelectUnprocessed returns up to limit unprocessed rows, oldest first.
func (p *Postgres) SelectUnprocessed(ctx context.Context, limit int) ([]Row, error) {
	if err := p.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("rawstore: ensure table: %w", err)
	}

	rows, err := p.pool.Query(ctx, selectUnprocessedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("rawstore: select unprocessed: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r            Row
			authorsJSON  []byte
			metadataJSON []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Item.SourceAdapter, &r.Item.ExternalID, &r.Item.Title,
			&r.Item.Content, &r.Item.Summary,
			&authorsJSON, &r.Item.PublishedAt, &r.Item.SourceURL, &metadataJSON,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("rawstore: scan: %w", err)
		}
		if len(authorsJSON) > 0 {
			if err := json.Unmarshal(authorsJSON, &r.Item.Authors); err != nil {
				return nil, fmt.Errorf("rawstore: decode authors: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Item.Metadata); err != nil {
				return nil, fmt.Errorf("rawstore: decode metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkProcessed flips a row's processed flag. Safe to repeat.
func (p *Postgres) MarkProcessed(ctx context.Context, id int64) error {
	if err := p.ensureTable(ctx); err != nil {
		return fmt.Errorf("rawstore: ensure table: %w", err)
	}
	if _, err := p.pool.Exec(ctx, markProcessedSQL, id); err != nil {
		return fmt.Errorf("rawstore: mark processed %d: %w", id, err)
	}
	return nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

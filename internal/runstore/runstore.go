// Package runstore appends finished pipeline runs to Postgres for later
// auditing. Writes are best effort from the caller's point of view; the HTTP
// layer logs failures and still answers the request.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
)

const DefaultMaxConns = 4

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id       TEXT PRIMARY KEY,
	molecule     TEXT NOT NULL,
	brand        TEXT NOT NULL DEFAULT '',
	countries    TEXT[] NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL,
	truncated    BOOLEAN NOT NULL DEFAULT FALSE,
	records      INTEGER NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL,
	result       JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS pipeline_run_records (
	run_id            TEXT NOT NULL REFERENCES pipeline_runs (run_id) ON DELETE CASCADE,
	identifier        TEXT NOT NULL,
	provenance        TEXT NOT NULL,
	origin            TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	source_identifier TEXT NOT NULL DEFAULT '',
	score             INTEGER NOT NULL,
	PRIMARY KEY (run_id, identifier)
);`

const insertRun = `INSERT INTO pipeline_runs
	(run_id, molecule, brand, countries, status, truncated, records, started_at, duration_ms, result)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (run_id) DO NOTHING`

const insertRecord = `INSERT INTO pipeline_run_records
	(run_id, identifier, provenance, origin, source, source_identifier, score)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (run_id, identifier) DO NOTHING`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: pool, pool: pool}, nil
}

func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	return nil
}

// Save writes the run row and one row per record in a single batch. It
// returns the number of rows inserted.
func (s *Store) Save(ctx context.Context, res *pipeline.Result) (int, error) {
	doc, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}

	countries := res.Request.TargetCountries
	if countries == nil {
		countries = []string{}
	}

	b := &pgx.Batch{}
	b.Queue(insertRun,
		res.RunID, res.Request.MoleculeName, res.Request.BrandName, countries,
		res.Status, res.Truncated, len(res.Records), res.StartedAt,
		res.Duration.Milliseconds(), doc,
	)
	for _, r := range res.Records {
		b.Queue(insertRecord,
			res.RunID, r.Identifier.Key(), string(r.Provenance), r.Origin,
			r.Source, r.SourceIdentifier.Key(), r.Score,
		)
	}

	br := s.db.SendBatch(ctx, b)

	total := 0
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("save run %s: %w", res.RunID, err)
		}
		total += int(tag.RowsAffected())
	}

	if err := br.Close(); err != nil {
		return total, fmt.Errorf("save run %s: %w", res.RunID, err)
	}

	return total, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

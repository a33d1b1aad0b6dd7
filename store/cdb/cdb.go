package cdb

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/store"
	"golang.org/x/xerrors"
)

var (
	createTableQuery = `
CREATE TABLE IF NOT EXISTS distances (
	job_id TEXT NOT NULL,
	src INT8 NOT NULL,
	dst INT8 NOT NULL,
	weight INT8 NOT NULL,
	PRIMARY KEY (job_id, src, dst)
)
`
	upsertRowQuery = `
INSERT INTO distances (job_id, src, dst, weight)
SELECT $1, $2, t.dst - 1, t.weight FROM unnest($3::INT8[]) WITH ORDINALITY AS t(weight, dst)
ON CONFLICT (job_id, src, dst) DO UPDATE SET weight=excluded.weight
`
	findDistanceQuery = "SELECT weight FROM distances WHERE job_id=$1 AND src=$2 AND dst=$3"

	// Compile-time check for ensuring CockroachDBStore implements
	// DistanceStore.
	_ store.DistanceStore = (*CockroachDBStore)(nil)
)

// CockroachDBStore implements a DistanceStore that persists distance rows to
// a cockroachdb instance.
type CockroachDBStore struct {
	db *sql.DB
}

// NewCockroachDBStore returns a CockroachDBStore instance that connects to
// the cockroachdb instance specified by dsn.
func NewCockroachDBStore(dsn string) (*CockroachDBStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	return &CockroachDBStore{db: db}, nil
}

// EnsureSchema creates the distances table if it does not exist.
func (c *CockroachDBStore) EnsureSchema() error {
	if _, err := c.db.Exec(createTableQuery); err != nil {
		return xerrors.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close terminates the connection to the backing cockroachdb instance.
func (c *CockroachDBStore) Close() error {
	return c.db.Close()
}

// SaveRows implements DistanceStore. All rows are written in a single
// transaction.
func (c *CockroachDBStore) SaveRows(jobID string, firstRow int, rows [][]graph.Weight) error {
	if err := store.ValidateRows(firstRow, rows); err != nil {
		return xerrors.Errorf("save rows: %w", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return xerrors.Errorf("save rows: %w", err)
	}

	stmt, err := tx.Prepare(upsertRowQuery)
	if err != nil {
		_ = tx.Rollback()
		return xerrors.Errorf("save rows: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range rows {
		if _, err = stmt.Exec(jobID, firstRow+i, pq.Array(row)); err != nil {
			_ = tx.Rollback()
			return xerrors.Errorf("save row %d: %w", firstRow+i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return xerrors.Errorf("save rows: %w", err)
	}
	return nil
}

// Distance implements DistanceStore.
func (c *CockroachDBStore) Distance(jobID string, from, to int) (graph.Weight, error) {
	var weight graph.Weight
	row := c.db.QueryRow(findDistanceQuery, jobID, from, to)
	if err := row.Scan(&weight); err != nil {
		if err == sql.ErrNoRows {
			return 0, xerrors.Errorf("distance %d -> %d: %w", from, to, store.ErrNotFound)
		}

		return 0, xerrors.Errorf("distance %d -> %d: %w", from, to, err)
	}

	return weight, nil
}

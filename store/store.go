// Package store defines the persistence layer for computed distance rows.
package store

import (
	"github.com/mpilab/distapsp/graph"
	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned when looking up a distance that has not
	// been persisted.
	ErrNotFound = xerrors.New("not found")

	// ErrInvalidRow is returned when attempting to persist rows with
	// negative indices or mismatched widths.
	ErrInvalidRow = xerrors.New("invalid row")
)

// DistanceStore is implemented by objects that can persist the rows of a
// solved distance matrix and serve single-pair lookups.
type DistanceStore interface {
	// SaveRows persists rows as the consecutive matrix rows starting at
	// firstRow for the specified job. Existing rows are overwritten.
	SaveRows(jobID string, firstRow int, rows [][]graph.Weight) error

	// Distance returns the shortest path weight from vertex from to
	// vertex to for the specified job.
	Distance(jobID string, from, to int) (graph.Weight, error)
}

// ValidateRows checks that firstRow is non-negative and that all rows share
// the same width.
func ValidateRows(firstRow int, rows [][]graph.Weight) error {
	if firstRow < 0 {
		return xerrors.Errorf("first row %d: %w", firstRow, ErrInvalidRow)
	}
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return xerrors.Errorf("row %d has %d values; expected %d: %w", firstRow+i, len(row), len(rows[0]), ErrInvalidRow)
		}
	}
	return nil
}

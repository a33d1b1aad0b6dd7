package graph

import (
	"math/rand"

	"golang.org/x/xerrors"
)

// RowInitializer is implemented by types that can populate a graph row with
// its initial edge weights.
type RowInitializer interface {
	// InitializeRow fills row (of length numVertices) with the weights of
	// the edges leaving vertex globalRow. The diagonal entry must be 0.
	InitializeRow(row []Weight, globalRow, numVertices int) error
}

// PathInitializer builds a path graph: consecutive vertices are connected
// with weight 1 in both directions and every other pair has no edge.
type PathInitializer struct{}

// InitializeRow implements RowInitializer.
func (PathInitializer) InitializeRow(row []Weight, globalRow, numVertices int) error {
	if len(row) != numVertices {
		return xerrors.Errorf("row length %d does not match vertex count %d", len(row), numVertices)
	}
	for j := range row {
		switch d := globalRow - j; {
		case d == 0:
			row[j] = 0
		case d == 1 || d == -1:
			row[j] = 1
		default:
			row[j] = Infinity
		}
	}
	return nil
}

// RandomInitializer builds a complete directed graph with pseudo-random
// weights in [1, 8192]. Each row is derived from Seed and its own index so
// rows can be generated in any order with identical results.
type RandomInitializer struct {
	Seed int64
}

// InitializeRow implements RowInitializer.
func (ri RandomInitializer) InitializeRow(row []Weight, globalRow, numVertices int) error {
	if len(row) != numVertices {
		return xerrors.Errorf("row length %d does not match vertex count %d", len(row), numVertices)
	}
	rng := rand.New(rand.NewSource(ri.Seed*1000003 + int64(globalRow)))
	for j := range row {
		w := Weight(rng.Int63()&8191) + 1
		if j == globalRow {
			w = 0
		}
		row[j] = w
	}
	return nil
}

// MatrixInitializer copies rows from a literal n x n weight matrix.
type MatrixInitializer [][]Weight

// InitializeRow implements RowInitializer.
func (m MatrixInitializer) InitializeRow(row []Weight, globalRow, numVertices int) error {
	if len(m) != numVertices {
		return xerrors.Errorf("matrix has %d rows; expected %d", len(m), numVertices)
	} else if globalRow < 0 || globalRow >= numVertices {
		return xerrors.Errorf("row index %d out of range", globalRow)
	} else if len(m[globalRow]) != numVertices || len(row) != numVertices {
		return xerrors.Errorf("row %d has %d columns; expected %d", globalRow, len(m[globalRow]), numVertices)
	}
	copy(row, m[globalRow])
	return nil
}

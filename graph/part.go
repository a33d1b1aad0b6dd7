package graph

import (
	"golang.org/x/xerrors"
)

var (
	// ErrAllocation is returned when the storage for a graph part cannot
	// be allocated.
	ErrAllocation = xerrors.New("unable to allocate graph part")

	// maxPartCells caps the number of weights a single part may hold.
	maxPartCells = int64(1) << 31
)

// Part stores the rows [FirstRow(), LastRow()) of a dense n x n distance
// matrix. All owned rows live in a single row-major buffer; rows are
// addressed through a stride of NumVertices().
type Part struct {
	numVertices int
	firstRow    int
	lastRow     int
	data        []Weight
}

// AllocatePart allocates storage for the rows [firstRow, lastRow) of a graph
// with numVertices vertices. The returned part is zero-filled.
func AllocatePart(numVertices, firstRow, lastRow int) (*Part, error) {
	if numVertices <= 0 {
		return nil, xerrors.Errorf("invalid vertex count %d: %w", numVertices, ErrAllocation)
	}
	if firstRow < 0 || lastRow > numVertices || firstRow >= lastRow {
		return nil, xerrors.Errorf("invalid row range [%d, %d) for %d vertices: %w", firstRow, lastRow, numVertices, ErrAllocation)
	}

	cells := int64(lastRow-firstRow) * int64(numVertices)
	if cells/int64(numVertices) != int64(lastRow-firstRow) || cells > maxPartCells {
		return nil, xerrors.Errorf("part with %d cells exceeds the allocation limit: %w", cells, ErrAllocation)
	}

	return &Part{
		numVertices: numVertices,
		firstRow:    firstRow,
		lastRow:     lastRow,
		data:        make([]Weight, cells),
	}, nil
}

// NumVertices returns the number of vertices (and columns) of the graph.
func (p *Part) NumVertices() int { return p.numVertices }

// FirstRow returns the global index of the first owned row.
func (p *Part) FirstRow() int { return p.firstRow }

// LastRow returns the global index one past the last owned row.
func (p *Part) LastRow() int { return p.lastRow }

// NumRows returns the number of owned rows.
func (p *Part) NumRows() int { return p.lastRow - p.firstRow }

// Owns returns true if the global row index belongs to this part.
func (p *Part) Owns(globalRow int) bool {
	return globalRow >= p.firstRow && globalRow < p.lastRow
}

// LocalRow returns the i-th owned row. The returned slice aliases the part
// storage.
func (p *Part) LocalRow(i int) []Weight {
	start := i * p.numVertices
	return p.data[start : start+p.numVertices : start+p.numVertices]
}

// Row returns the row with the provided global index or nil if the row is
// not owned by this part.
func (p *Part) Row(globalRow int) []Weight {
	if p.data == nil || !p.Owns(globalRow) {
		return nil
	}
	return p.LocalRow(globalRow - p.firstRow)
}

// Released returns true if Release has been invoked.
func (p *Part) Released() bool { return p.data == nil }

// Release drops the part storage. Calling Release more than once is a no-op.
func (p *Part) Release() {
	p.data = nil
}

package partition

import (
	"golang.org/x/xerrors"
)

var (
	// ErrTooManyPartitions is returned when the number of partitions
	// exceeds the number of rows so that some partition would own no rows.
	ErrTooManyPartitions = xerrors.New("number of partitions exceeds the number of rows")
)

// FirstRow returns the first (inclusive) row owned by partition r when
// numRows rows are split into numParts contiguous partitions. The first
// numRows%numParts partitions receive one extra row each. By definition
// FirstRow(numRows, numParts, numParts) == numRows.
func FirstRow(numRows, numParts, r int) int {
	base := numRows / numParts
	extra := numRows % numParts
	if r < extra {
		return r * (base + 1)
	}
	return extra*(base+1) + (r-extra)*base
}

// OwnerOf returns the partition that row k belongs to. It is the inverse of
// FirstRow: OwnerOf(k) == r iff FirstRow(r) <= k < FirstRow(r+1).
func OwnerOf(k, numRows, numParts int) int {
	base := numRows / numParts
	extra := numRows % numParts
	threshold := (base + 1) * extra
	if k < threshold {
		return k / (base + 1)
	}
	return extra + (k-threshold)/base
}

// Range represents the row space [0, numRows) of a dense matrix which is
// split into a number of contiguous partitions.
type Range struct {
	numRows  int
	numParts int
}

// NewRange creates a new range over [0, numRows) and splits it into the
// provided number of partitions.
func NewRange(numRows, numParts int) (*Range, error) {
	if numRows <= 0 {
		return nil, xerrors.Errorf("number of rows must be at least equal to 1")
	} else if numParts <= 0 {
		return nil, xerrors.Errorf("number of partitions must be at least equal to 1")
	} else if numParts > numRows {
		return nil, xerrors.Errorf("%d partitions for %d rows: %w", numParts, numRows, ErrTooManyPartitions)
	}

	return &Range{numRows: numRows, numParts: numParts}, nil
}

// NumRows returns the number of rows covered by the range.
func (r *Range) NumRows() int { return r.numRows }

// NumPartitions returns the number of partitions.
func (r *Range) NumPartitions() int { return r.numParts }

// PartitionExtents returns the [first, last) rows for the requested partition.
func (r *Range) PartitionExtents(partition int) (int, int, error) {
	if partition < 0 || partition >= r.numParts {
		return -1, -1, xerrors.Errorf("invalid partition index")
	}

	return FirstRow(r.numRows, r.numParts, partition), FirstRow(r.numRows, r.numParts, partition+1), nil
}

// RowsFor returns the number of rows owned by a partition or 0 if the
// partition index is invalid.
func (r *Range) RowsFor(partition int) int {
	first, last, err := r.PartitionExtents(partition)
	if err != nil {
		return 0
	}
	return last - first
}

// PartitionForRow returns the partition index that the provided row belongs to.
func (r *Range) PartitionForRow(row int) (int, error) {
	if row < 0 || row >= r.numRows {
		return -1, xerrors.Errorf("unable to detect partition for row %d", row)
	}

	return OwnerOf(row, r.numRows, r.numParts), nil
}

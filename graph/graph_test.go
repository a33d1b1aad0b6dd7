package graph

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestSaturatingAdd(t *testing.T) {
	specs := []struct {
		name string
		a, b Weight
		exp  Weight
	}{
		{"small values", 3, 4, 7},
		{"negative operand", 3, -5, -2},
		{"infinity left", Infinity, 1, Infinity},
		{"infinity right", 1, Infinity, Infinity},
		{"infinity both", Infinity, Infinity, Infinity},
		{"overflow saturates", Infinity - 1, 2, Infinity},
		{"underflow clamps", math.MinInt64 + 1, -2, math.MinInt64},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			assert.Equal(t, spec.exp, SaturatingAdd(spec.a, spec.b))
		})
	}
}

func TestAllocatePart(t *testing.T) {
	p, err := AllocatePart(5, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, p.NumVertices())
	assert.Equal(t, 3, p.FirstRow())
	assert.Equal(t, 5, p.LastRow())
	assert.Equal(t, 2, p.NumRows())
	assert.True(t, p.Owns(3))
	assert.False(t, p.Owns(2))
	assert.Nil(t, p.Row(0))

	// Rows are strided views over one buffer.
	p.LocalRow(1)[4] = 42
	assert.Equal(t, Weight(42), p.Row(4)[4])
	assert.Len(t, p.Row(3), 5)

	// Appending to a row must not bleed into the next one.
	row := append(p.LocalRow(0), 99)
	row[0] = 7
	assert.Equal(t, Weight(0), p.LocalRow(0)[0])
}

func TestAllocatePartErrors(t *testing.T) {
	specs := []struct {
		name              string
		n, first, lastRow int
	}{
		{"zero vertices", 0, 0, 0},
		{"empty range", 4, 2, 2},
		{"negative start", 4, -1, 2},
		{"range past end", 4, 2, 5},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			_, err := AllocatePart(spec.n, spec.first, spec.lastRow)
			assert.True(t, xerrors.Is(err, ErrAllocation))
		})
	}
}

func TestAllocatePartLimit(t *testing.T) {
	orig := maxPartCells
	defer func() { maxPartCells = orig }()
	maxPartCells = 10

	_, err := AllocatePart(4, 0, 3)
	assert.True(t, xerrors.Is(err, ErrAllocation))

	_, err = AllocatePart(4, 0, 2)
	assert.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, err := AllocatePart(3, 0, 3)
	require.NoError(t, err)

	p.Release()
	assert.True(t, p.Released())
	assert.Nil(t, p.Row(0))
	p.Release()
	assert.True(t, p.Released())
}

func TestPathInitializer(t *testing.T) {
	row := make([]Weight, 4)
	require.NoError(t, PathInitializer{}.InitializeRow(row, 1, 4))
	assert.Equal(t, []Weight{1, 0, 1, Infinity}, row)

	assert.Error(t, PathInitializer{}.InitializeRow(row, 1, 5))
}

func TestRandomInitializerIsDeterministic(t *testing.T) {
	ri := RandomInitializer{Seed: 42}
	a, b := make([]Weight, 16), make([]Weight, 16)
	require.NoError(t, ri.InitializeRow(a, 7, 16))
	require.NoError(t, ri.InitializeRow(b, 7, 16))
	assert.Equal(t, a, b)

	for j, w := range a {
		if j == 7 {
			assert.Equal(t, Weight(0), w)
			continue
		}
		assert.True(t, w >= 1 && w <= 8192, "weight %d out of range", w)
	}
}

func TestMatrixInitializer(t *testing.T) {
	m := MatrixInitializer{
		{0, 2},
		{Infinity, 0},
	}

	row := make([]Weight, 2)
	require.NoError(t, m.InitializeRow(row, 1, 2))
	assert.Equal(t, []Weight{Infinity, 0}, row)

	assert.Error(t, m.InitializeRow(row, 2, 2))
	assert.Error(t, m.InitializeRow(make([]Weight, 3), 0, 3))
}

func TestPrintRow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintRow(&buf, []Weight{0, 12, Infinity, -3}, 0, 4))
	assert.Equal(t, "0 12 inf -3\n", buf.String())
}

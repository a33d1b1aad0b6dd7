package apsp

import (
	"github.com/mpilab/distapsp/graph"
	"golang.org/x/xerrors"
)

// BuildMatrix materializes the full n x n matrix produced by init.
func BuildMatrix(init graph.RowInitializer, n int) ([][]graph.Weight, error) {
	matrix := make([][]graph.Weight, n)
	for i := range matrix {
		matrix[i] = make([]graph.Weight, n)
		if err := init.InitializeRow(matrix[i], i, n); err != nil {
			return nil, xerrors.Errorf("initialize row %d: %w", i, err)
		}
	}
	return matrix, nil
}

// FloydWarshall solves the all-pairs shortest path problem for matrix on a
// single process and returns the solved copy. The input is not modified.
func FloydWarshall(matrix [][]graph.Weight) [][]graph.Weight {
	n := len(matrix)
	dist := make([][]graph.Weight, n)
	for i := range matrix {
		dist[i] = append([]graph.Weight(nil), matrix[i]...)
	}

	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if dist[i][k] == graph.Infinity {
				continue
			}
			for j := 0; j < n; j++ {
				if candidate := graph.SaturatingAdd(dist[i][k], dist[k][j]); candidate < dist[i][j] {
					dist[i][j] = candidate
				}
			}
		}
	}
	return dist
}

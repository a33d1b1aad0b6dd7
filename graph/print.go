package graph

import (
	"bufio"
	"io"
	"strconv"
)

// PrintRow writes a single row to w as a space-separated line. Infinity is
// rendered as "inf".
func PrintRow(w io.Writer, row []Weight, globalRow, numVertices int) error {
	bw := bufio.NewWriter(w)
	for j := 0; j < numVertices && j < len(row); j++ {
		if j > 0 {
			_ = bw.WriteByte(' ')
		}
		if row[j] == Infinity {
			_, _ = bw.WriteString("inf")
			continue
		}
		_, _ = bw.WriteString(strconv.FormatInt(row[j], 10))
	}
	_ = bw.WriteByte('\n')
	return bw.Flush()
}

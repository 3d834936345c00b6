// Package grid models the clock face: a fixed 10x16 matrix of LED cells, the
// priority tier of each cell, and the diff between two requested faces.
package grid

import "fmt"

const (
	Rows = 10
	Cols = 16
	Size = Rows * Cols

	// The minute indicators sit at the end of the last row.
	IndicatorRow      = 9
	IndicatorFirstCol = 11
	Indicators        = 4
)

// Cell addresses one LED by row and column.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c Cell) Valid() bool {
	return c.Row >= 0 && c.Row < Rows && c.Col >= 0 && c.Col < Cols
}

// Index maps the cell to its raster position (0..Size-1).
func (c Cell) Index() int { return c.Row*Cols + c.Col }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// CellAt is the inverse of Index.
func CellAt(i int) Cell { return Cell{Row: i / Cols, Col: i % Cols} }

// IndicatorCell returns the n-th minute indicator (0..Indicators-1).
func IndicatorCell(n int) Cell {
	return Cell{Row: IndicatorRow, Col: IndicatorFirstCol + n}
}

// Matrix is the logical lit/unlit state of every cell.
type Matrix [Rows][Cols]bool

func (m *Matrix) Set(c Cell, lit bool) {
	if c.Valid() {
		m[c.Row][c.Col] = lit
	}
}

func (m *Matrix) Lit(c Cell) bool {
	return c.Valid() && m[c.Row][c.Col]
}

// Span lights n cells of one row starting at col.
func (m *Matrix) Span(row, col, n int) {
	for i := 0; i < n; i++ {
		m.Set(Cell{Row: row, Col: col + i}, true)
	}
}

func (m *Matrix) Clear() { *m = Matrix{} }

// Count returns the number of lit cells.
func (m *Matrix) Count() int {
	n := 0
	for r := range m {
		for c := range m[r] {
			if m[r][c] {
				n++
			}
		}
	}
	return n
}

// Cells returns the lit cells in ascending (row, col) order.
func (m *Matrix) Cells() []Cell {
	out := make([]Cell, 0, m.Count())
	for r := range m {
		for c := range m[r] {
			if m[r][c] {
				out = append(out, Cell{Row: r, Col: c})
			}
		}
	}
	return out
}

package grid

// Tier orders cells for animation allocation. All changes of a lower tier are
// allocated before any change of a higher one, so a word never half-animates.
type Tier int

const (
	// Tier1 covers the hour words (rows 4-9, minus the indicators).
	Tier1 Tier = iota + 1
	// Tier2 covers the lead-in and minute words (rows 0-3).
	Tier2
	// Tier3 covers the four minute indicators.
	Tier3
)

var tiers = [...]Tier{Tier1, Tier2, Tier3}

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "hour"
	case Tier2:
		return "minute"
	case Tier3:
		return "indicator"
	}
	return "unknown"
}

func isIndicator(c Cell) bool {
	return c.Row == IndicatorRow && c.Col >= IndicatorFirstCol && c.Col < IndicatorFirstCol+Indicators
}

// TierOf classifies a cell. Invalid cells report 0.
func TierOf(c Cell) Tier {
	switch {
	case !c.Valid():
		return 0
	case isIndicator(c):
		return Tier3
	case c.Row >= 4:
		return Tier1
	default:
		return Tier2
	}
}

// Change is one cell whose lit state differs between two matrices.
type Change struct {
	Cell Cell
	Lit  bool
}

// Diff appends to dst every cell whose lit state differs between prev and next,
// ordered by tier and then by ascending (row, col). Passing a dst with enough
// capacity (Size) keeps the diff allocation free.
func Diff(prev, next *Matrix, dst []Change) []Change {
	for _, tier := range tiers {
		for r := 0; r < Rows; r++ {
			for c := 0; c < Cols; c++ {
				if prev[r][c] == next[r][c] {
					continue
				}
				cell := Cell{Row: r, Col: c}
				if TierOf(cell) != tier {
					continue
				}
				dst = append(dst, Change{Cell: cell, Lit: next[r][c]})
			}
		}
	}
	return dst
}

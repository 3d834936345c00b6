package demo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coreman2200/wordclock/internal/grid"
)

var ErrUnknownWord = errors.New("unknown word")

// Word is a run of cells on one row of the face.
type Word struct {
	Name string
	Row  int
	Col  int
	Len  int
}

// Face is the letter layout of the clock:
//
//	E S . I S T . F U N F . . . . .
//	Z E H N Z W A N Z I G . . . . .
//	D R E I V I E R T E L . . . . .
//	V O R . . . . N A C H . . . . .
//	H A L B . E L F U N F . . . . .
//	E I N S . . . Z W E I . . . . .
//	D R E I . . . V I E R . . . . .
//	S E C H S . . A C H T . . . . .
//	S I E B E N Z W O L F . . . . .
//	Z E H N E U N . U H R . o o o o
var Face = []Word{
	{"ES", 0, 0, 2}, {"IST", 0, 3, 3}, {"FUENF_M", 0, 7, 4},
	{"ZEHN_M", 1, 0, 4}, {"ZWANZIG", 1, 4, 7},
	{"DREIVIERTEL", 2, 0, 11}, {"VIERTEL", 2, 4, 7},
	{"VOR", 3, 0, 3}, {"NACH", 3, 7, 4},
	{"HALB", 4, 0, 4}, {"ELF", 4, 5, 3}, {"FUENF_H", 4, 7, 4},
	{"EIN", 5, 0, 3}, {"EINS", 5, 0, 4}, {"ZWEI", 5, 7, 4},
	{"DREI", 6, 0, 4}, {"VIER", 6, 7, 4},
	{"SECHS", 7, 0, 5}, {"ACHT", 7, 7, 4},
	{"SIEBEN", 8, 0, 6}, {"ZWOELF", 8, 6, 5},
	{"ZEHN_H", 9, 0, 4}, {"NEUN", 9, 3, 4}, {"UHR", 9, 8, 3},
}

func lookup(name string) (Word, bool) {
	name = strings.ToUpper(name)
	for _, w := range Face {
		if w.Name == name {
			return w, true
		}
	}
	return Word{}, false
}

// Light lights the named words and n minute indicators in m.
func Light(m *grid.Matrix, indicators int, names ...string) error {
	for _, n := range names {
		w, ok := lookup(n)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownWord, n)
		}
		m.Span(w.Row, w.Col, w.Len)
	}
	if indicators < 0 || indicators > grid.Indicators {
		return fmt.Errorf("indicators %d not in [0, %d]", indicators, grid.Indicators)
	}
	for i := 0; i < indicators; i++ {
		m.Set(grid.IndicatorCell(i), true)
	}
	return nil
}

// Words builds a matrix from word names.
func Words(names ...string) (grid.Matrix, error) {
	var m grid.Matrix
	err := Light(&m, 0, names...)
	return m, err
}

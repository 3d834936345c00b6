package demo

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/coreman2200/wordclock/internal/grid"
)

var ErrNoFrames = errors.New("no frames")

// maxScriptFrames bounds what a script may declare.
const maxScriptFrames = 1024

// Frames is a finite, indexable list of faces.
type Frames interface {
	Len() int
	Frame(i int) grid.Matrix
}

// Sequence is a fixed list of faces.
type Sequence []grid.Matrix

func (s Sequence) Len() int                { return len(s) }
func (s Sequence) Frame(i int) grid.Matrix { return s[i] }

type step struct {
	words      []string
	indicators int
}

// DefaultFrames walks an hour in five minute steps, ending on the next full
// hour, with a minute indicator frame in between. Consecutive frames change
// between one word and several rows, so every allocation path is exercised.
func DefaultFrames() Sequence {
	steps := []step{
		{[]string{"ES", "IST", "ZWEI", "UHR"}, 0},
		{[]string{"ES", "IST", "ZWEI", "UHR"}, 3},
		{[]string{"ES", "IST", "FUENF_M", "NACH", "ZWEI"}, 0},
		{[]string{"ES", "IST", "ZEHN_M", "NACH", "ZWEI"}, 0},
		{[]string{"ES", "IST", "VIERTEL", "NACH", "ZWEI"}, 0},
		{[]string{"ES", "IST", "ZWANZIG", "NACH", "ZWEI"}, 0},
		{[]string{"ES", "IST", "FUENF_M", "VOR", "HALB", "DREI"}, 0},
		{[]string{"ES", "IST", "HALB", "DREI"}, 0},
		{[]string{"ES", "IST", "FUENF_M", "NACH", "HALB", "DREI"}, 0},
		{[]string{"ES", "IST", "ZWANZIG", "VOR", "DREI"}, 0},
		{[]string{"ES", "IST", "VIERTEL", "VOR", "DREI"}, 0},
		{[]string{"ES", "IST", "ZEHN_M", "VOR", "DREI"}, 0},
		{[]string{"ES", "IST", "FUENF_M", "VOR", "DREI"}, 0},
		{[]string{"ES", "IST", "DREI", "UHR"}, 0},
	}
	seq := make(Sequence, len(steps))
	for i, s := range steps {
		if err := Light(&seq[i], s.indicators, s.words...); err != nil {
			panic(err) // static table
		}
	}
	return seq
}

// LuaFrames evaluates a script into a Sequence. The script sets the global
// `frames` to the frame count and defines `frame(i)` (1-based), which draws
// with:
//
//	lit(row, col)           light one cell
//	span(row, col, n)       light n cells of a row
//	word(name)              light a word of the face
//	indicators(n)           light the first n minute indicators
//
// The globals `rows` and `cols` hold the matrix size.
func LuaFrames(script string) (Sequence, error) {
	L := lua.NewState()
	defer L.Close()

	var cur grid.Matrix
	L.SetGlobal("rows", lua.LNumber(grid.Rows))
	L.SetGlobal("cols", lua.LNumber(grid.Cols))
	L.SetGlobal("lit", L.NewFunction(func(L *lua.LState) int {
		cur.Set(grid.Cell{Row: L.CheckInt(1), Col: L.CheckInt(2)}, true)
		return 0
	}))
	L.SetGlobal("span", L.NewFunction(func(L *lua.LState) int {
		cur.Span(L.CheckInt(1), L.CheckInt(2), L.CheckInt(3))
		return 0
	}))
	L.SetGlobal("word", L.NewFunction(func(L *lua.LState) int {
		if err := Light(&cur, 0, L.CheckString(1)); err != nil {
			L.ArgError(1, err.Error())
		}
		return 0
	}))
	L.SetGlobal("indicators", L.NewFunction(func(L *lua.LState) int {
		if err := Light(&cur, L.CheckInt(1)); err != nil {
			L.ArgError(1, err.Error())
		}
		return 0
	}))

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("demo script: %w", err)
	}
	n, ok := L.GetGlobal("frames").(lua.LNumber)
	if !ok || n < 1 {
		return nil, fmt.Errorf("demo script: %w: global 'frames' must be a positive number", ErrNoFrames)
	}
	if n > maxScriptFrames {
		return nil, fmt.Errorf("demo script: %d frames exceeds %d", int(n), maxScriptFrames)
	}
	fn := L.GetGlobal("frame")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("demo script: global 'frame' is not a function")
	}

	seq := make(Sequence, 0, int(n))
	for i := 1; i <= int(n); i++ {
		cur = grid.Matrix{}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(i)); err != nil {
			return nil, fmt.Errorf("demo script frame %d: %w", i, err)
		}
		seq = append(seq, cur)
	}
	return seq, nil
}

// Package align merges independently sampled series onto one step timeline.
package align

import (
	"slices"
	"strconv"

	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

// SumLabel names the aggregate column.
const SumLabel = "SUM"

// Input is one labelled series. Align keeps inputs in the order given.
type Input struct {
	Label  string
	Series provider.Series
}

// Value is a cell of the matrix. Valid is false before a column's first point.
type Value struct {
	Price float64
	Valid bool
}

// MarshalJSON encodes an absent value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.Price, 'g', -1, 64), nil
}

type Column struct {
	Label  string  `json:"label"`
	Values []Value `json:"values"`
}

// Matrix is a forward-filled table. Index is strictly increasing and every
// column has len(Index) values.
type Matrix struct {
	Index   []int64  `json:"index"`
	Columns []Column `json:"columns"`
}

// Len returns the number of rows.
func (m Matrix) Len() int { return len(m.Index) }

// Column returns the column with the given label.
func (m Matrix) Column(label string) (Column, bool) {
	for _, c := range m.Columns {
		if c.Label == label {
			return c, true
		}
	}
	return Column{}, false
}

// Align builds the sorted union of all timestamps and forward-fills each
// input onto it. With wantSum and at least two inputs a SUM column is
// appended; a SUM cell is valid only where every input is valid.
// Inputs sharing a label collapse into one column at the first position,
// holding the later series.
func Align(inputs []Input, wantSum bool) Matrix {
	inputs = dedupLabels(inputs)
	if len(inputs) == 0 {
		return Matrix{Index: []int64{}, Columns: []Column{}}
	}

	var index []int64
	for _, in := range inputs {
		for _, p := range in.Series {
			index = append(index, p.Time)
		}
	}
	slices.Sort(index)
	index = slices.Compact(index)
	if index == nil {
		index = []int64{}
	}

	cols := make([]Column, 0, len(inputs)+1)
	for _, in := range inputs {
		cols = append(cols, Column{Label: in.Label, Values: fill(index, in.Series)})
	}
	if wantSum && len(inputs) >= 2 {
		cols = append(cols, sum(index, cols))
	}
	return Matrix{Index: index, Columns: cols}
}

// fill steps s onto index. s must be sorted ascending.
func fill(index []int64, s provider.Series) []Value {
	out := make([]Value, len(index))
	j := 0
	var cur Value
	for i, ts := range index {
		for j < len(s) && s[j].Time <= ts {
			cur = Value{Price: s[j].Price, Valid: true}
			j++
		}
		out[i] = cur
	}
	return out
}

func sum(index []int64, cols []Column) Column {
	out := make([]Value, len(index))
	for i := range index {
		v := Value{Valid: true}
		for _, c := range cols {
			if !c.Values[i].Valid {
				v = Value{}
				break
			}
			v.Price += c.Values[i].Price
		}
		out[i] = v
	}
	return Column{Label: SumLabel, Values: out}
}

func dedupLabels(inputs []Input) []Input {
	out := make([]Input, 0, len(inputs))
	pos := make(map[string]int, len(inputs))
	for _, in := range inputs {
		if i, ok := pos[in.Label]; ok {
			out[i] = in
			continue
		}
		pos[in.Label] = len(out)
		out = append(out, in)
	}
	return out
}

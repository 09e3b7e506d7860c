package provider

import "sort"

// Normalize sorts points by time and keeps one point per timestamp.
// For duplicate timestamps the point appearing last in the input wins,
// so later pages supersede earlier ones. The input slice is not modified.
func Normalize(points []Point) Series {
	if len(points) == 0 {
		return Series{}
	}
	out := make(Series, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Time == out[i].Time {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Clip returns the points with start <= Time <= end.
func Clip(points []Point, start, end int64) []Point {
	out := points[:0:0]
	for _, p := range points {
		if p.Time < start || p.Time > end {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Bounds returns the first and last timestamps of a normalized series.
func (s Series) Bounds() (first, last int64, ok bool) {
	if len(s) == 0 {
		return 0, 0, false
	}
	return s[0].Time, s[len(s)-1].Time, true
}

// Clone returns an independent copy of s.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

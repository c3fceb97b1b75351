package recorder

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FieldStats summarizes the recent values of one signal field
type FieldStats struct {
	Count  int     `json:"count"`
	Last   float64 `json:"last"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// window is a fixed size ring of the most recent values
type window struct {
	values []float64
	next   int
	full   bool
	last   float64
}

func newWindow(size int) *window {
	return &window{values: make([]float64, size)}
}

func (w *window) add(v float64) {
	w.values[w.next] = v
	w.last = v
	w.next++
	if w.next == len(w.values) {
		w.next = 0
		w.full = true
	}
}

func (w *window) snapshot() []float64 {
	if w.full {
		return append([]float64(nil), w.values...)
	}
	return append([]float64(nil), w.values[:w.next]...)
}

func (w *window) stats() FieldStats {
	values := w.snapshot()
	if len(values) == 0 {
		return FieldStats{}
	}

	s := FieldStats{
		Count: len(values),
		Last:  w.last,
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	if len(values) == 1 {
		s.Mean = values[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s
}

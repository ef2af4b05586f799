package common

import (
	"math"
	"slices"
	"testing"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		rb.Push(v)
	}

	if rb.Len() != 3 || !rb.IsFull() {
		t.Fatalf("len: got %d, want 3 (full)", rb.Len())
	}
	if got := rb.Values(); !slices.Equal(got, []float64{3, 4, 5}) {
		t.Fatalf("values: got %v", got)
	}
	if got := rb.Last(2); !slices.Equal(got, []float64{4, 5}) {
		t.Fatalf("last 2: got %v", got)
	}
	if got := rb.Last(10); len(got) != 3 {
		t.Fatalf("last 10 should be capped at len, got %v", got)
	}
	if latest, ok := rb.Latest(); !ok || latest != 5 {
		t.Fatalf("latest: got %v %v", latest, ok)
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(50)
	rb.Push(0.4)
	rb.Clear()

	if !rb.IsEmpty() {
		t.Fatal("buffer not empty after clear")
	}
	if _, ok := rb.Latest(); ok {
		t.Fatal("latest should report empty")
	}
	if rb.Cap() != 50 {
		t.Fatalf("capacity changed: %d", rb.Cap())
	}
	rb.Push(0.7)
	if got := rb.Values(); !slices.Equal(got, []float64{0.7}) {
		t.Fatalf("values after reuse: got %v", got)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{name: "empty", in: nil, want: 0},
		{name: "odd", in: []float64{120, 60, 240}, want: 120},
		{name: "even", in: []float64{118, 122, 120, 200}, want: 121},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Median(tt.in); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(mean-5) > 1e-12 {
		t.Fatalf("mean: got %v", mean)
	}
	if math.Abs(std-2) > 1e-12 {
		t.Fatalf("population std: got %v, want 2", std)
	}
}

func TestClamp(t *testing.T) {
	if Clamp01(1.7) != 1 || Clamp01(-0.2) != 0 || Clamp01(math.NaN()) != 0 {
		t.Fatal("clamp01 out of range")
	}
	if Clamp(0.95, 0.2, 0.9) != 0.9 {
		t.Fatal("clamp upper bound")
	}
}

func TestRingOfStructs(t *testing.T) {
	type beat struct {
		pos  int
		kind string
	}
	r := NewRing[beat](2)
	r.Push(beat{1, "KICK"})
	r.Push(beat{2, "HIGH"})
	r.Push(beat{3, "BASS"})

	got := r.Values()
	if len(got) != 2 || got[0].pos != 2 || got[1].kind != "BASS" {
		t.Fatalf("values: got %+v", got)
	}
	if r.At(5) != (beat{}) {
		t.Fatal("out of range At should return the zero value")
	}
}

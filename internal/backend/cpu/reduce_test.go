package cpu

import (
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

func TestSumAxesSingleAxis(t *testing.T) {
	backend := newTestBackend()

	// [[1,2,3],[4,5,6]]
	x := rawFromFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	t.Run("axis 0", func(t *testing.T) {
		got := backend.SumAxes(x, []int{0}, false)
		if !got.Shape().Equal(tensor.Shape{3}) {
			t.Fatalf("shape = %v, want {3}", got.Shape())
		}
		assertFloat32Slice(t, []float32{5, 7, 9}, got.AsFloat32(), "sum over rows")
	})

	t.Run("axis 1", func(t *testing.T) {
		got := backend.SumAxes(x, []int{1}, false)
		if !got.Shape().Equal(tensor.Shape{2}) {
			t.Fatalf("shape = %v, want {2}", got.Shape())
		}
		assertFloat32Slice(t, []float32{6, 15}, got.AsFloat32(), "sum over columns")
	})

	t.Run("negative axis", func(t *testing.T) {
		got := backend.SumAxes(x, []int{-1}, false)
		assertFloat32Slice(t, []float32{6, 15}, got.AsFloat32(), "sum over axis -1")
	})

	t.Run("keepDims", func(t *testing.T) {
		got := backend.SumAxes(x, []int{0}, true)
		if !got.Shape().Equal(tensor.Shape{1, 3}) {
			t.Fatalf("shape = %v, want {1,3}", got.Shape())
		}
	})
}

func TestSumAxesMultipleAxes(t *testing.T) {
	backend := newTestBackend()

	// Shape (2,3,2): x[n][c][s] = 100*n + 10*c + s
	data := make([]float64, 12)
	idx := 0
	for n := 0; n < 2; n++ {
		for c := 0; c < 3; c++ {
			for s := 0; s < 2; s++ {
				data[idx] = float64(100*n + 10*c + s)
				idx++
			}
		}
	}
	x := rawFromFloat64(t, data, tensor.Shape{2, 3, 2})

	// Reducing batch and spatial axes leaves one sum per channel.
	got := backend.SumAxes(x, []int{0, 2}, false)
	if !got.Shape().Equal(tensor.Shape{3}) {
		t.Fatalf("shape = %v, want {3}", got.Shape())
	}

	want := make([]float64, 3)
	for c := 0; c < 3; c++ {
		var elems []float64
		for n := 0; n < 2; n++ {
			for s := 0; s < 2; s++ {
				elems = append(elems, float64(100*n+10*c+s))
			}
		}
		want[c] = floats.Sum(elems)
	}
	assertFloat64Slice(t, want, got.AsFloat64(), "sum over batch and spatial axes")
}

func TestSumAxesPanicsOnBadAxis(t *testing.T) {
	backend := newTestBackend()
	x := rawFromFloat32(t, []float32{1, 2}, tensor.Shape{2})

	defer func() {
		if recover() == nil {
			t.Error("SumAxes with out-of-range axis did not panic")
		}
	}()
	backend.SumAxes(x, []int{3}, false)
}

func TestMeanAxes(t *testing.T) {
	backend := newTestBackend()

	data := []float64{1, 2, 3, 4, 5, 6}
	x := rawFromFloat64(t, data, tensor.Shape{2, 3})

	got := backend.MeanAxes(x, []int{1}, false)
	want := []float64{stat.Mean(data[:3], nil), stat.Mean(data[3:], nil)}
	assertFloat64Slice(t, want, got.AsFloat64(), "row means")

	got = backend.MeanAxes(x, []int{0, 1}, false)
	assertFloat64Slice(t, []float64{stat.Mean(data, nil)}, got.AsFloat64(), "grand mean")
}

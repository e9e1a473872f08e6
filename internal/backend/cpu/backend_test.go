package cpu

import (
	"math"
	"testing"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

func newTestBackend() *CPUBackend {
	return New()
}

func rawFromFloat32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsFloat32(), data)
	return raw
}

func rawFromFloat64(t *testing.T, data []float64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsFloat64(), data)
	return raw
}

func assertFloat32Slice(t *testing.T, want, got []float32, msg string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: length %d, want %d", msg, len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > 1e-6 {
			t.Errorf("%s: element %d = %v, want %v", msg, i, got[i], want[i])
		}
	}
}

func assertFloat64Slice(t *testing.T, want, got []float64, msg string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: length %d, want %d", msg, len(got), len(want))
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-12 {
			t.Errorf("%s: element %d = %v, want %v", msg, i, got[i], want[i])
		}
	}
}

func TestCPUBackendMetadata(t *testing.T) {
	backend := New()
	if backend.Name() != "CPU" {
		t.Errorf("Name() = %q, want \"CPU\"", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Device() = %v, want CPU", backend.Device())
	}
}

func TestBinaryOpsSameShape(t *testing.T) {
	backend := newTestBackend()

	a := rawFromFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := rawFromFloat32(t, []float32{10, 20, 30, 40}, tensor.Shape{2, 2})

	assertFloat32Slice(t, []float32{11, 22, 33, 44}, backend.Add(a, b).AsFloat32(), "Add")
	assertFloat32Slice(t, []float32{9, 18, 27, 36}, backend.Sub(b, a).AsFloat32(), "Sub")
	assertFloat32Slice(t, []float32{10, 40, 90, 160}, backend.Mul(a, b).AsFloat32(), "Mul")
	assertFloat32Slice(t, []float32{10, 10, 10, 10}, backend.Div(b, a).AsFloat32(), "Div")
}

func TestBinaryOpsFloat64(t *testing.T) {
	backend := newTestBackend()

	a := rawFromFloat64(t, []float64{1.5, -2, 0.25}, tensor.Shape{3})
	b := rawFromFloat64(t, []float64{0.5, 4, -2}, tensor.Shape{3})

	assertFloat64Slice(t, []float64{2, 2, -1.75}, backend.Add(a, b).AsFloat64(), "Add")
	assertFloat64Slice(t, []float64{1, -6, 2.25}, backend.Sub(a, b).AsFloat64(), "Sub")
	assertFloat64Slice(t, []float64{0.75, -8, -0.5}, backend.Mul(a, b).AsFloat64(), "Mul")
	assertFloat64Slice(t, []float64{3, -0.5, -0.125}, backend.Div(a, b).AsFloat64(), "Div")
}

func TestBinaryOpsBroadcast(t *testing.T) {
	backend := newTestBackend()

	// (2,3) + (3,) broadcasts the row vector over both rows.
	a := rawFromFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	row := rawFromFloat32(t, []float32{10, 20, 30}, tensor.Shape{3})
	assertFloat32Slice(t, []float32{11, 22, 33, 14, 25, 36}, backend.Add(a, row).AsFloat32(), "row broadcast")

	// (2,1) * (2,3) broadcasts the column vector over all columns.
	col := rawFromFloat32(t, []float32{2, 10}, tensor.Shape{2, 1})
	assertFloat32Slice(t, []float32{2, 4, 6, 40, 50, 60}, backend.Mul(col, a).AsFloat32(), "column broadcast")

	// (2,1) + (1,3) expands both operands.
	row13 := rawFromFloat32(t, []float32{1, 2, 3}, tensor.Shape{1, 3})
	assertFloat32Slice(t, []float32{3, 4, 5, 11, 12, 13}, backend.Add(col, row13).AsFloat32(), "dual broadcast")
}

func TestBinaryOpPanicsOnMismatch(t *testing.T) {
	backend := newTestBackend()

	a := rawFromFloat32(t, []float32{1, 2, 3}, tensor.Shape{3})
	b := rawFromFloat32(t, []float32{1, 2}, tensor.Shape{2})

	defer func() {
		if recover() == nil {
			t.Error("Add with incompatible shapes did not panic")
		}
	}()
	backend.Add(a, b)
}

func TestScalarOps(t *testing.T) {
	backend := newTestBackend()

	x := rawFromFloat32(t, []float32{1, -2, 3}, tensor.Shape{3})
	assertFloat32Slice(t, []float32{3, 0, 5}, backend.AddScalar(x, 2).AsFloat32(), "AddScalar")
	assertFloat32Slice(t, []float32{-0.5, 1, -1.5}, backend.MulScalar(x, -0.5).AsFloat32(), "MulScalar")
	assertFloat32Slice(t, []float32{1, 0, 3}, backend.ClampMin(x, 0).AsFloat32(), "ClampMin")

	y := rawFromFloat64(t, []float64{0.5, 5, -3}, tensor.Shape{3})
	assertFloat64Slice(t, []float64{1.5, 6, -2}, backend.AddScalar(y, 1).AsFloat64(), "AddScalar f64")
	assertFloat64Slice(t, []float64{1, 10, -6}, backend.MulScalar(y, 2).AsFloat64(), "MulScalar f64")
	assertFloat64Slice(t, []float64{1, 5, 1}, backend.ClampMin(y, 1).AsFloat64(), "ClampMin f64")
}

func TestMathOps(t *testing.T) {
	backend := newTestBackend()

	x := rawFromFloat64(t, []float64{4, 9, 0.25}, tensor.Shape{3})
	assertFloat64Slice(t, []float64{2, 3, 0.5}, backend.Sqrt(x).AsFloat64(), "Sqrt")
	assertFloat64Slice(t, []float64{0.5, 1.0 / 3.0, 2}, backend.Rsqrt(x).AsFloat64(), "Rsqrt")
	assertFloat64Slice(t, []float64{0.25, 1.0 / 9.0, 4}, backend.Reciprocal(x).AsFloat64(), "Reciprocal")
}

func TestMathOpsFloat32(t *testing.T) {
	backend := newTestBackend()

	x := rawFromFloat32(t, []float32{16, 0.0625}, tensor.Shape{2})
	assertFloat32Slice(t, []float32{4, 0.25}, backend.Sqrt(x).AsFloat32(), "Sqrt")
	assertFloat32Slice(t, []float32{0.25, 4}, backend.Rsqrt(x).AsFloat32(), "Rsqrt")
}

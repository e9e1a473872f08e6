//go:build windows

package webgpu

import (
	"math"
	"testing"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

func newGPUBackend(t *testing.T) *Backend {
	t.Helper()
	backend, err := New()
	if err != nil {
		t.Logf("WebGPU not available: %v", err)
		t.Skip("WebGPU not available on this system")
	}
	t.Cleanup(backend.Release)
	return backend
}

func rawFloat32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.WebGPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(raw.AsFloat32(), data)
	return raw
}

func TestGPUBackendMetadata(t *testing.T) {
	backend := newGPUBackend(t)

	if backend.Name() != "WebGPU" {
		t.Errorf("Name() = %q, want \"WebGPU\"", backend.Name())
	}
	if backend.Device() != tensor.WebGPU {
		t.Errorf("Device() = %v, want WebGPU", backend.Device())
	}
}

func TestGPUBinaryOps(t *testing.T) {
	backend := newGPUBackend(t)

	a := rawFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{4})
	b := rawFloat32(t, []float32{10, 20, 30, 40}, tensor.Shape{4})

	tests := []struct {
		name string
		op   func(a, b *tensor.RawTensor) *tensor.RawTensor
		want []float32
	}{
		{"Add", backend.Add, []float32{11, 22, 33, 44}},
		{"Sub", backend.Sub, []float32{-9, -18, -27, -36}},
		{"Mul", backend.Mul, []float32{10, 40, 90, 160}},
		{"Div", backend.Div, []float32{0.1, 0.1, 0.1, 0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.op(a, b).AsFloat32()
			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("element %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGPUUnaryOps(t *testing.T) {
	backend := newGPUBackend(t)

	x := rawFloat32(t, []float32{4, 16, 64, 0.25}, tensor.Shape{4})

	sqrt := backend.Sqrt(x).AsFloat32()
	wantSqrt := []float32{2, 4, 8, 0.5}
	for i := range wantSqrt {
		if math.Abs(float64(sqrt[i]-wantSqrt[i])) > 1e-5 {
			t.Errorf("Sqrt element %d = %v, want %v", i, sqrt[i], wantSqrt[i])
		}
	}

	rsqrt := backend.Rsqrt(x).AsFloat32()
	wantRsqrt := []float32{0.5, 0.25, 0.125, 2}
	for i := range wantRsqrt {
		if math.Abs(float64(rsqrt[i]-wantRsqrt[i])) > 1e-5 {
			t.Errorf("Rsqrt element %d = %v, want %v", i, rsqrt[i], wantRsqrt[i])
		}
	}
}

func TestGPUFusedNormalizeMatchesComposed(t *testing.T) {
	backend := newGPUBackend(t)

	shape := tensor.Shape{2, 3, 4}
	x := rawFloat32(t, make([]float32, 24), shape)
	for i := range x.AsFloat32() {
		x.AsFloat32()[i] = float32(i)*0.25 - 3
	}
	mean := rawFloat32(t, []float32{0.5, -1, 2}, tensor.Shape{1, 3, 1})
	invStd := rawFloat32(t, []float32{1, 0.5, 2}, tensor.Shape{1, 3, 1})
	gamma := rawFloat32(t, []float32{2, 1, 0.5}, tensor.Shape{1, 3, 1})
	beta := rawFloat32(t, []float32{0, 1, -1}, tensor.Shape{1, 3, 1})

	got := backend.FusedNormalize(x, mean, invStd, gamma, beta).AsFloat32()

	xs := x.AsFloat32()
	means := mean.AsFloat32()
	invStds := invStd.AsFloat32()
	gammas := gamma.AsFloat32()
	betas := beta.AsFloat32()
	for i, v := range got {
		c := (i / 4) % 3
		want := gammas[c]*(xs[i]-means[c])*invStds[c] + betas[c]
		if math.Abs(float64(v-want)) > 1e-5 {
			t.Errorf("element %d = %v, want %v", i, v, want)
		}
	}
}

func TestGPUFallbackForFloat64(t *testing.T) {
	backend := newGPUBackend(t)

	a, err := tensor.NewRaw(tensor.Shape{3}, tensor.Float64, tensor.WebGPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	b, err := tensor.NewRaw(tensor.Shape{3}, tensor.Float64, tensor.WebGPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	copy(a.AsFloat64(), []float64{1, 2, 3})
	copy(b.AsFloat64(), []float64{4, 5, 6})

	// Float64 runs on the CPU delegate; the result must still be correct.
	got := backend.Add(a, b).AsFloat64()
	want := []float64{5, 7, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// Package cpu implements the reference CPU backend for tensor operations.
// Float64 kernels lean on gonum; float32 kernels are plain Go loops.
package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// CPUBackend implements tensor operations on the CPU.
type CPUBackend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{device: tensor.CPU}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// binaryKernels holds the per-dtype implementations of one binary operation.
type binaryKernels struct {
	vec32 func(dst, a, b []float32) // same-shape fast path
	vec64 func(dst, a, b []float64)
	el32  func(a, b float32) float32 // broadcast path, one element at a time
	el64  func(a, b float64) float64
}

var addKernels = binaryKernels{
	vec32: func(dst, a, b []float32) {
		for i := range dst {
			dst[i] = a[i] + b[i]
		}
	},
	vec64: func(dst, a, b []float64) {
		copy(dst, a)
		floats.Add(dst, b)
	},
	el32: func(a, b float32) float32 { return a + b },
	el64: func(a, b float64) float64 { return a + b },
}

var subKernels = binaryKernels{
	vec32: func(dst, a, b []float32) {
		for i := range dst {
			dst[i] = a[i] - b[i]
		}
	},
	vec64: func(dst, a, b []float64) {
		copy(dst, a)
		floats.Sub(dst, b)
	},
	el32: func(a, b float32) float32 { return a - b },
	el64: func(a, b float64) float64 { return a - b },
}

var mulKernels = binaryKernels{
	vec32: func(dst, a, b []float32) {
		for i := range dst {
			dst[i] = a[i] * b[i]
		}
	},
	vec64: func(dst, a, b []float64) {
		copy(dst, a)
		floats.Mul(dst, b)
	},
	el32: func(a, b float32) float32 { return a * b },
	el64: func(a, b float64) float64 { return a * b },
}

var divKernels = binaryKernels{
	vec32: func(dst, a, b []float32) {
		for i := range dst {
			dst[i] = a[i] / b[i]
		}
	},
	vec64: func(dst, a, b []float64) {
		copy(dst, a)
		floats.Div(dst, b)
	},
	el32: func(a, b float32) float32 { return a / b },
	el64: func(a, b float64) float64 { return a / b },
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b, addKernels)
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b, subKernels)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b, mulKernels)
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b, divKernels)
}

func (cpu *CPUBackend) binaryOp(name string, a, b *tensor.RawTensor, k binaryKernels) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch: %s vs %s", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	if !needsBroadcast && a.Shape().Equal(b.Shape()) {
		switch a.DType() {
		case tensor.Float32:
			k.vec32(result.AsFloat32(), a.AsFloat32(), b.AsFloat32())
		case tensor.Float64:
			k.vec64(result.AsFloat64(), a.AsFloat64(), b.AsFloat64())
		default:
			panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
		}
		return result
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	outStrides := outShape.ComputeStrides()

	switch a.DType() {
	case tensor.Float32:
		dst, as, bs := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
		for i := range dst {
			dst[i] = k.el32(as[flatIndex(i, outStrides, aStrides)], bs[flatIndex(i, outStrides, bStrides)])
		}
	case tensor.Float64:
		dst, as, bs := result.AsFloat64(), a.AsFloat64(), b.AsFloat64()
		for i := range dst {
			dst[i] = k.el64(as[flatIndex(i, outStrides, aStrides)], bs[flatIndex(i, outStrides, bStrides)])
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
	}

	return result
}

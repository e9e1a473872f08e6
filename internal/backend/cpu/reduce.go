package cpu

import (
	"fmt"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// SumAxes sums tensor elements over the given set of axes.
//
// Negative axes index from the end. With keepDims the reduced axes remain
// as singleton dimensions, otherwise they are removed from the result shape.
func (cpu *CPUBackend) SumAxes(x *tensor.RawTensor, axes []int, keepDims bool) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)

	reduced := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 {
			ax += ndim
		}
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("sumaxes: axis %d out of range for %dD tensor", ax, ndim))
		}
		if reduced[ax] {
			panic(fmt.Sprintf("sumaxes: duplicate axis %d", ax))
		}
		reduced[ax] = true
	}

	// Shape with reduced axes kept as singletons; used for output indexing
	// regardless of keepDims since dropping axes does not change the layout.
	keepShape := shape.Clone()
	for i, r := range reduced {
		if r {
			keepShape[i] = 1
		}
	}

	outShape := keepShape
	if !keepDims {
		outShape = make(tensor.Shape, 0, ndim)
		for i, r := range reduced {
			if !r {
				outShape = append(outShape, shape[i])
			}
		}
	}

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sumaxes: failed to create result tensor: %v", err))
	}

	inStrides := shape.ComputeStrides()
	keepStrides := keepShape.ComputeStrides()

	switch x.DType() {
	case tensor.Float32:
		sumAxesFloat32(x.AsFloat32(), result.AsFloat32(), inStrides, keepStrides, reduced)
	case tensor.Float64:
		sumAxesFloat64(x.AsFloat64(), result.AsFloat64(), inStrides, keepStrides, reduced)
	default:
		panic(fmt.Sprintf("sumaxes: unsupported dtype %s (only float32/float64 supported)", x.DType()))
	}

	return result
}

// MeanAxes averages tensor elements over the given set of axes.
func (cpu *CPUBackend) MeanAxes(x *tensor.RawTensor, axes []int, keepDims bool) *tensor.RawTensor {
	result := cpu.SumAxes(x, axes, keepDims)

	count := x.NumElements() / result.NumElements()
	inv := 1.0 / float64(count)

	switch result.DType() {
	case tensor.Float32:
		data := result.AsFloat32()
		invF32 := float32(inv)
		for i := range data {
			data[i] *= invF32
		}
	case tensor.Float64:
		data := result.AsFloat64()
		for i := range data {
			data[i] *= inv
		}
	}

	return result
}

func sumAxesFloat32(src, dst []float32, inStrides, keepStrides []int, reduced []bool) {
	for i := range src {
		rem := i
		outIdx := 0
		for d := range inStrides {
			coord := rem / inStrides[d]
			rem %= inStrides[d]
			if !reduced[d] {
				outIdx += coord * keepStrides[d]
			}
		}
		dst[outIdx] += src[i]
	}
}

func sumAxesFloat64(src, dst []float64, inStrides, keepStrides []int, reduced []bool) {
	for i := range src {
		rem := i
		outIdx := 0
		for d := range inStrides {
			coord := rem / inStrides[d]
			rem %= inStrides[d]
			if !reduced[d] {
				outIdx += coord * keepStrides[d]
			}
		}
		dst[outIdx] += src[i]
	}
}

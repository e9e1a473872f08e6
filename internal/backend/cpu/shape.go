package cpu

import (
	"fmt"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// Reshape returns a tensor sharing x's data with a new shape.
// The new shape must have the same number of elements.
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result, err := x.WithShape(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return result
}

// Unsqueeze adds a dimension of size 1 at the specified position.
// Supports negative dim indexing.
func (cpu *CPUBackend) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim + 1
	}
	if dim < 0 || dim > ndim {
		panic(fmt.Sprintf("unsqueeze: dim %d out of range for %dD tensor", dim, ndim))
	}

	newShape := make(tensor.Shape, 0, ndim+1)
	newShape = append(newShape, shape[:dim]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, shape[dim:]...)

	return cpu.Reshape(x, newShape)
}

// Transpose permutes the tensor's dimensions. With no axes given, all
// dimensions are reversed.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}
	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(newShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	// Element size in bytes; the permutation copy is dtype-agnostic.
	sz := x.DType().Size()
	src, dst := x.Data(), result.Data()
	inStrides := shape.ComputeStrides()
	outStrides := newShape.ComputeStrides()

	for i := 0; i < x.NumElements(); i++ {
		rem := i
		srcIdx := 0
		for d := 0; d < ndim; d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		copy(dst[i*sz:(i+1)*sz], src[srcIdx*sz:(srcIdx+1)*sz])
	}

	return result
}

// Expand broadcasts x to the given shape, materializing the result.
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	if !x.Shape().BroadcastableTo(shape) {
		panic(fmt.Sprintf("expand: cannot broadcast %v to %v", x.Shape(), shape))
	}

	result, err := tensor.NewRaw(shape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("expand: %v", err))
	}

	sz := x.DType().Size()
	src, dst := x.Data(), result.Data()
	inStrides := broadcastStrides(x.Shape(), shape)
	outStrides := shape.ComputeStrides()

	for i := 0; i < result.NumElements(); i++ {
		srcIdx := flatIndex(i, outStrides, inStrides)
		copy(dst[i*sz:(i+1)*sz], src[srcIdx*sz:(srcIdx+1)*sz])
	}

	return result
}

// Cast converts x to another data type. Bool converts to 1/0 in float
// dtypes; float-to-bool is not supported.
func (cpu *CPUBackend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}

	result, err := tensor.NewRaw(x.Shape(), dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cast: %v", err))
	}

	switch {
	case x.DType() == tensor.Float32 && dtype == tensor.Float64:
		src, dst := x.AsFloat32(), result.AsFloat64()
		for i, v := range src {
			dst[i] = float64(v)
		}
	case x.DType() == tensor.Float64 && dtype == tensor.Float32:
		src, dst := x.AsFloat64(), result.AsFloat32()
		for i, v := range src {
			dst[i] = float32(v)
		}
	case x.DType() == tensor.Bool && dtype == tensor.Float32:
		src, dst := x.AsBool(), result.AsFloat32()
		for i, v := range src {
			if v {
				dst[i] = 1
			}
		}
	case x.DType() == tensor.Bool && dtype == tensor.Float64:
		src, dst := x.AsBool(), result.AsFloat64()
		for i, v := range src {
			if v {
				dst[i] = 1
			}
		}
	default:
		panic(fmt.Sprintf("cast: unsupported conversion %s -> %s", x.DType(), dtype))
	}

	return result
}

package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// AddScalar adds a scalar value to each element of the tensor.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := cpu.newResult("addScalar", x)

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		sf := float32(s)
		for i, v := range src {
			dst[i] = v + sf
		}
	case tensor.Float64:
		copy(result.AsFloat64(), x.AsFloat64())
		floats.AddConst(s, result.AsFloat64())
	default:
		panic(fmt.Sprintf("addScalar: unsupported dtype %s", x.DType()))
	}

	return result
}

// MulScalar multiplies each element of the tensor by a scalar value.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := cpu.newResult("mulScalar", x)

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		sf := float32(s)
		for i, v := range src {
			dst[i] = v * sf
		}
	case tensor.Float64:
		copy(result.AsFloat64(), x.AsFloat64())
		floats.Scale(s, result.AsFloat64())
	default:
		panic(fmt.Sprintf("mulScalar: unsupported dtype %s", x.DType()))
	}

	return result
}

// ClampMin replaces every element smaller than s with s.
func (cpu *CPUBackend) ClampMin(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	result := cpu.newResult("clampMin", x)

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		sf := float32(s)
		for i, v := range src {
			if v < sf {
				v = sf
			}
			dst[i] = v
		}
	case tensor.Float64:
		src, dst := x.AsFloat64(), result.AsFloat64()
		for i, v := range src {
			if v < s {
				v = s
			}
			dst[i] = v
		}
	default:
		panic(fmt.Sprintf("clampMin: unsupported dtype %s", x.DType()))
	}

	return result
}

// newResult allocates an output tensor matching x's shape and dtype.
func (cpu *CPUBackend) newResult(name string, x *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}
	return result
}

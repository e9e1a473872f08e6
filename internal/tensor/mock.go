package tensor

import (
	"fmt"
	"math"
)

// Verify that MockBackend implements Backend.
var _ Backend = (*MockBackend)(nil)

// MockBackend is a simple backend for testing. It implements every
// operation naively through float64, trading speed for obvious correctness.
type MockBackend struct{}

// NewMockBackend creates a new MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Name returns the backend name.
func (m *MockBackend) Name() string {
	return "mock"
}

// Device returns the device type.
func (m *MockBackend) Device() Device {
	return CPU
}

// valueAt reads element i of r as float64, whatever the dtype.
func valueAt(r *RawTensor, i int) float64 {
	switch r.DType() {
	case Float32:
		return float64(r.AsFloat32()[i])
	case Float64:
		return r.AsFloat64()[i]
	case Bool:
		if r.AsBool()[i] {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("mock: unsupported dtype %s", r.DType()))
	}
}

// setValue writes v into element i of r, converting to r's dtype.
func setValue(r *RawTensor, i int, v float64) {
	switch r.DType() {
	case Float32:
		r.AsFloat32()[i] = float32(v)
	case Float64:
		r.AsFloat64()[i] = v
	case Bool:
		r.AsBool()[i] = v != 0
	default:
		panic(fmt.Sprintf("mock: unsupported dtype %s", r.DType()))
	}
}

// sourceIndex maps a flat index in outShape back to a flat index in inShape
// under broadcasting.
func sourceIndex(outIdx int, inShape, outShape Shape) int {
	outStrides := outShape.ComputeStrides()
	inStrides := inShape.ComputeStrides()
	offset := len(outShape) - len(inShape)

	srcIdx := 0
	rem := outIdx
	for d := range outShape {
		coord := rem / outStrides[d]
		rem %= outStrides[d]
		in := d - offset
		if in < 0 {
			continue
		}
		if inShape[in] == 1 {
			continue
		}
		srcIdx += coord * inStrides[in]
	}
	return srcIdx
}

func (m *MockBackend) elementWise(a, b *RawTensor, op func(float64, float64) float64) *RawTensor {
	outShape, _, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(err)
	}

	result, err := NewRaw(outShape, a.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	for i := 0; i < result.NumElements(); i++ {
		av := valueAt(a, sourceIndex(i, a.Shape(), outShape))
		bv := valueAt(b, sourceIndex(i, b.Shape(), outShape))
		setValue(result, i, op(av, bv))
	}
	return result
}

func (m *MockBackend) unary(x *RawTensor, op func(float64) float64) *RawTensor {
	result, err := NewRaw(x.Shape(), x.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	for i := 0; i < x.NumElements(); i++ {
		setValue(result, i, op(valueAt(x, i)))
	}
	return result
}

// Add performs element-wise addition with broadcasting.
func (m *MockBackend) Add(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (m *MockBackend) Sub(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (m *MockBackend) Mul(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (m *MockBackend) Div(a, b *RawTensor) *RawTensor {
	return m.elementWise(a, b, func(x, y float64) float64 { return x / y })
}

// AddScalar adds s to every element.
func (m *MockBackend) AddScalar(x *RawTensor, s float64) *RawTensor {
	return m.unary(x, func(v float64) float64 { return v + s })
}

// MulScalar multiplies every element by s.
func (m *MockBackend) MulScalar(x *RawTensor, s float64) *RawTensor {
	return m.unary(x, func(v float64) float64 { return v * s })
}

// ClampMin replaces elements below s with s.
func (m *MockBackend) ClampMin(x *RawTensor, s float64) *RawTensor {
	return m.unary(x, func(v float64) float64 { return math.Max(v, s) })
}

// Sqrt computes the element-wise square root.
func (m *MockBackend) Sqrt(x *RawTensor) *RawTensor {
	return m.unary(x, math.Sqrt)
}

// Rsqrt computes the element-wise inverse square root.
func (m *MockBackend) Rsqrt(x *RawTensor) *RawTensor {
	return m.unary(x, func(v float64) float64 { return 1 / math.Sqrt(v) })
}

// Reciprocal computes the element-wise reciprocal.
func (m *MockBackend) Reciprocal(x *RawTensor) *RawTensor {
	return m.unary(x, func(v float64) float64 { return 1 / v })
}

// SumAxes sums over the given axes.
func (m *MockBackend) SumAxes(x *RawTensor, axes []int, keepDims bool) *RawTensor {
	shape := x.Shape()
	ndim := len(shape)

	reduced := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 {
			ax += ndim
		}
		reduced[ax] = true
	}

	keepShape := shape.Clone()
	for i, r := range reduced {
		if r {
			keepShape[i] = 1
		}
	}
	outShape := keepShape
	if !keepDims {
		outShape = make(Shape, 0, ndim)
		for i, r := range reduced {
			if !r {
				outShape = append(outShape, shape[i])
			}
		}
	}

	result, err := NewRaw(outShape, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	inStrides := shape.ComputeStrides()
	keepStrides := keepShape.ComputeStrides()
	for i := 0; i < x.NumElements(); i++ {
		rem := i
		outIdx := 0
		for d := range inStrides {
			coord := rem / inStrides[d]
			rem %= inStrides[d]
			if !reduced[d] {
				outIdx += coord * keepStrides[d]
			}
		}
		setValue(result, outIdx, valueAt(result, outIdx)+valueAt(x, i))
	}
	return result
}

// MeanAxes averages over the given axes.
func (m *MockBackend) MeanAxes(x *RawTensor, axes []int, keepDims bool) *RawTensor {
	result := m.SumAxes(x, axes, keepDims)
	inv := float64(result.NumElements()) / float64(x.NumElements())
	for i := 0; i < result.NumElements(); i++ {
		setValue(result, i, valueAt(result, i)*inv)
	}
	return result
}

// Reshape returns a view with a new shape.
func (m *MockBackend) Reshape(t *RawTensor, newShape Shape) *RawTensor {
	result, err := t.WithShape(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Transpose permutes the tensor's dimensions.
func (m *MockBackend) Transpose(t *RawTensor, axes ...int) *RawTensor {
	shape := t.Shape()
	ndim := len(shape)
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	newShape := make(Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result, err := NewRaw(newShape, t.DType(), m.Device())
	if err != nil {
		panic(err)
	}

	inStrides := shape.ComputeStrides()
	outStrides := newShape.ComputeStrides()
	for i := 0; i < t.NumElements(); i++ {
		rem := i
		srcIdx := 0
		for d := 0; d < ndim; d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		setValue(result, i, valueAt(t, srcIdx))
	}
	return result
}

// Unsqueeze inserts a singleton dimension at dim.
func (m *MockBackend) Unsqueeze(x *RawTensor, dim int) *RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim = len(shape) + dim + 1
	}
	newShape := make(Shape, 0, len(shape)+1)
	newShape = append(newShape, shape[:dim]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, shape[dim:]...)
	return m.Reshape(x, newShape)
}

// Expand broadcasts x to the given shape, materializing the result.
func (m *MockBackend) Expand(x *RawTensor, shape Shape) *RawTensor {
	if !x.Shape().BroadcastableTo(shape) {
		panic(fmt.Sprintf("mock expand: cannot broadcast %v to %v", x.Shape(), shape))
	}
	result, err := NewRaw(shape, x.DType(), m.Device())
	if err != nil {
		panic(err)
	}
	for i := 0; i < result.NumElements(); i++ {
		setValue(result, i, valueAt(x, sourceIndex(i, x.Shape(), shape)))
	}
	return result
}

// Cast converts x to another data type.
func (m *MockBackend) Cast(x *RawTensor, dtype DataType) *RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}
	result, err := NewRaw(x.Shape(), dtype, m.Device())
	if err != nil {
		panic(err)
	}
	for i := 0; i < x.NumElements(); i++ {
		setValue(result, i, valueAt(x, i))
	}
	return result
}

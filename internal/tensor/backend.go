package tensor

// Backend defines the interface a compute backend must implement for the
// normalization primitives. Backends handle the actual numeric work; the
// normalization code only expresses what to compute.
//
// Implementations:
//   - CPU: pure Go kernels with gonum-accelerated float64 paths
//   - WebGPU: GPU elementwise kernels with CPU fallback for the rest
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Element-wise operations with a scalar. The scalar is given as float64
	// and converted to the tensor's dtype.
	AddScalar(x *RawTensor, s float64) *RawTensor
	MulScalar(x *RawTensor, s float64) *RawTensor
	ClampMin(x *RawTensor, s float64) *RawTensor

	// Element-wise math operations.
	Sqrt(x *RawTensor) *RawTensor
	Rsqrt(x *RawTensor) *RawTensor      // 1/sqrt(x)
	Reciprocal(x *RawTensor) *RawTensor // 1/x

	// Reduction over a set of axes. With keepDims the reduced axes remain
	// as singleton dimensions; otherwise they are removed.
	SumAxes(x *RawTensor, axes []int, keepDims bool) *RawTensor
	MeanAxes(x *RawTensor, axes []int, keepDims bool) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Unsqueeze(x *RawTensor, dim int) *RawTensor
	Expand(x *RawTensor, shape Shape) *RawTensor // broadcast to shape

	// Type conversion. Bool converts to 1/0 in float dtypes.
	Cast(x *RawTensor, dtype DataType) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}

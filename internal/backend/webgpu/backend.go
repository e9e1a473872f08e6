//go:build windows

// Package webgpu implements a GPU backend for the elementwise tensor
// operations using go-webgpu's zero-CGO WebGPU bindings. Reductions, shape
// operations, and non-float32 dtypes delegate to the CPU backend; tensors
// live in host memory and are uploaded per operation.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/voxnet-ml/voxnorm/internal/backend/cpu"
	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// Backend implements tensor operations on GPU using WebGPU.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	// Host delegate for operations without a GPU kernel.
	cpu *cpu.CPUBackend
}

// New creates a new WebGPU backend.
// Returns an error if WebGPU is not available or initialization fails.
func New() (backend *Backend, err error) {
	// Recover if the wgpu_native library is not present on this machine.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
		cpu:       cpu.New(),
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "WebGPU"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return tensor.WebGPU
}

// gpuEligible reports whether the pair of tensors can run on the GPU
// elementwise path: float32 with identical shapes (no index math in the
// kernels).
func gpuEligible(a, o *tensor.RawTensor) bool {
	return a.DType() == tensor.Float32 && o.DType() == tensor.Float32 && a.Shape().Equal(o.Shape())
}

// Add performs element-wise addition.
func (b *Backend) Add(a, other *tensor.RawTensor) *tensor.RawTensor {
	if !gpuEligible(a, other) {
		return b.cpu.Add(a, other)
	}
	result, err := b.runBinaryOp(a, other, "add", addShader)
	if err != nil {
		panic("webgpu: Add: " + err.Error())
	}
	return result
}

// Sub performs element-wise subtraction.
func (b *Backend) Sub(a, other *tensor.RawTensor) *tensor.RawTensor {
	if !gpuEligible(a, other) {
		return b.cpu.Sub(a, other)
	}
	result, err := b.runBinaryOp(a, other, "sub", subShader)
	if err != nil {
		panic("webgpu: Sub: " + err.Error())
	}
	return result
}

// Mul performs element-wise multiplication.
func (b *Backend) Mul(a, other *tensor.RawTensor) *tensor.RawTensor {
	if !gpuEligible(a, other) {
		return b.cpu.Mul(a, other)
	}
	result, err := b.runBinaryOp(a, other, "mul", mulShader)
	if err != nil {
		panic("webgpu: Mul: " + err.Error())
	}
	return result
}

// Div performs element-wise division.
func (b *Backend) Div(a, other *tensor.RawTensor) *tensor.RawTensor {
	if !gpuEligible(a, other) {
		return b.cpu.Div(a, other)
	}
	result, err := b.runBinaryOp(a, other, "div", divShader)
	if err != nil {
		panic("webgpu: Div: " + err.Error())
	}
	return result
}

// Sqrt computes the element-wise square root.
func (b *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.cpu.Sqrt(x)
	}
	result, err := b.runUnaryOp(x, "sqrt", sqrtShader)
	if err != nil {
		panic("webgpu: Sqrt: " + err.Error())
	}
	return result
}

// Rsqrt computes the element-wise reciprocal square root.
func (b *Backend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.cpu.Rsqrt(x)
	}
	result, err := b.runUnaryOp(x, "rsqrt", rsqrtShader)
	if err != nil {
		panic("webgpu: Rsqrt: " + err.Error())
	}
	return result
}

// Reciprocal computes the element-wise reciprocal.
func (b *Backend) Reciprocal(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		return b.cpu.Reciprocal(x)
	}
	result, err := b.runUnaryOp(x, "reciprocal", reciprocalShader)
	if err != nil {
		panic("webgpu: Reciprocal: " + err.Error())
	}
	return result
}

// AddScalar adds a scalar to each element. Delegates to the CPU kernels.
func (b *Backend) AddScalar(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	return b.cpu.AddScalar(x, s)
}

// MulScalar multiplies each element by a scalar. Delegates to the CPU kernels.
func (b *Backend) MulScalar(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	return b.cpu.MulScalar(x, s)
}

// ClampMin replaces elements below s with s. Delegates to the CPU kernels.
func (b *Backend) ClampMin(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	return b.cpu.ClampMin(x, s)
}

// SumAxes sums over the given axes on the CPU.
func (b *Backend) SumAxes(x *tensor.RawTensor, axes []int, keepDims bool) *tensor.RawTensor {
	return b.cpu.SumAxes(x, axes, keepDims)
}

// MeanAxes averages over the given axes on the CPU.
func (b *Backend) MeanAxes(x *tensor.RawTensor, axes []int, keepDims bool) *tensor.RawTensor {
	return b.cpu.MeanAxes(x, axes, keepDims)
}

// Reshape returns a tensor sharing x's data with a new shape.
func (b *Backend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	return b.cpu.Reshape(x, newShape)
}

// Transpose permutes the tensor's dimensions on the CPU.
func (b *Backend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	return b.cpu.Transpose(x, axes...)
}

// Unsqueeze adds a singleton dimension.
func (b *Backend) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.cpu.Unsqueeze(x, dim)
}

// Expand broadcasts x to the given shape on the CPU.
func (b *Backend) Expand(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return b.cpu.Expand(x, shape)
}

// Cast converts x to another data type on the CPU.
func (b *Backend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	return b.cpu.Cast(x, dtype)
}

// FusedNormalize computes gamma*(x-mean)*invStd + beta in a single GPU
// kernel. The channel-shaped arguments may be aligned (same rank as x with
// singleton dimensions); they are expanded to x's shape before dispatch.
func (b *Backend) FusedNormalize(x, mean, invStd, gamma, beta *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		hat := b.cpu.Mul(b.cpu.Sub(x, mean), invStd)
		return b.cpu.Add(b.cpu.Mul(hat, gamma), beta)
	}

	result, err := b.runNormalize(x,
		b.cpu.Expand(mean, x.Shape()),
		b.cpu.Expand(invStd, x.Shape()),
		b.cpu.Expand(gamma, x.Shape()),
		b.cpu.Expand(beta, x.Shape()))
	if err != nil {
		panic("webgpu: FusedNormalize: " + err.Error())
	}
	return result
}

// Release frees the GPU resources held by the backend.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pipelines {
		p.Release()
	}
	for _, s := range b.shaders {
		s.Release()
	}
	b.queue.Release()
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}

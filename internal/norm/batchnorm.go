package norm

import (
	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// Default option values used by the detection pipeline.
const (
	DefaultEps   = 2e-5
	DefaultDecay = 0.9
)

// RunningStats holds the exponentially-smoothed mean and variance estimates
// maintained across successive training calls. The caller owns the pair;
// BatchNorm updates both in place.
type RunningStats struct {
	Mean *tensor.RawTensor
	Var  *tensor.RawTensor
}

// Options configures a BatchNorm forward call.
type Options struct {
	// Eps is the numerical floor added to the variance. Must be positive.
	Eps float64

	// Decay is the exponential-average smoothing factor in [0, 1).
	Decay float64

	// Running holds caller-owned running statistics, updated in place.
	// When nil, or when the pair's tensors are nil, a zero-initialized
	// pair shaped like gamma is allocated and made available through
	// State.Running.
	Running *RunningStats
}

// DefaultOptions returns Options with eps=2e-5 and decay=0.9.
func DefaultOptions() Options {
	return Options{Eps: DefaultEps, Decay: DefaultDecay}
}

// State carries the intermediate values one BatchNorm forward call caches
// for its single matching Backward call. A State is consumed by Backward
// and cannot be reused.
type State struct {
	plan     Plan
	mean     *tensor.RawTensor // channel-shaped batch mean over active elements
	invStd   *tensor.RawTensor // channel-shaped 1/sqrt(var+eps)
	mask     *tensor.RawTensor // original mask cast to x's dtype
	bmask    *tensor.RawTensor // mask broadcast to x's shape
	counts   *tensor.RawTensor // channel-shaped active element counts
	running  *RunningStats
	xShape   tensor.Shape
	backend  tensor.Backend
	consumed bool
}

// Mean returns the batch mean computed by the forward call.
func (s *State) Mean() *tensor.RawTensor { return s.mean }

// InvStd returns 1/sqrt(var+eps) computed by the forward call.
func (s *State) InvStd() *tensor.RawTensor { return s.invStd }

// Running returns the running statistics updated by the forward call.
// This is the caller-supplied pair, or the allocated one when none was given.
func (s *State) Running() *RunningStats { return s.running }

// BatchNorm normalizes x using batch statistics computed over only the
// positions mask marks active, applies the gamma/beta affine transform over
// the full dense tensor, zeroes masked-out output positions, and updates
// the running statistics in place.
//
// Shapes: x is (batch, channel..., spatial...); gamma and beta share the
// channel shape x.shape[1:1+gamma.rank]; mask is Bool or x's dtype and
// broadcastable to x's shape.
//
// The running-statistics update is the only in-place mutation and happens
// last, after all validation and computation succeeded.
func BatchNorm(b tensor.Backend, x, gamma, beta, mask *tensor.RawTensor, opts Options) (*tensor.RawTensor, *State, error) {
	if err := validateBatchNorm(x, gamma, beta, mask, opts); err != nil {
		return nil, nil, err
	}

	running := opts.Running
	if running == nil {
		running = &RunningStats{}
	}
	// An empty pair counts as absent; validation rejected half-filled ones.
	if running.Mean == nil {
		mean, err := tensor.NewRaw(gamma.Shape(), gamma.DType(), b.Device())
		if err != nil {
			return nil, nil, shapeErrorf("allocating running mean: %v", err)
		}
		variance, err := tensor.NewRaw(gamma.Shape(), gamma.DType(), b.Device())
		if err != nil {
			return nil, nil, shapeErrorf("allocating running variance: %v", err)
		}
		running.Mean, running.Var = mean, variance
	}

	plan := NewPlan(x.Shape().Rank(), gamma.Shape())

	// Activity mask as weights: statistics become mask-weighted dense
	// reductions, numerically identical to compacting the active elements.
	maskF := mask
	if maskF.DType() != x.DType() {
		maskF = b.Cast(mask, x.DType())
	}
	bmask := b.Expand(maskF, x.Shape())

	counts := b.SumAxes(bmask, plan.ReduceAxes, false)

	mean := b.Div(b.SumAxes(b.Mul(x, bmask), plan.ReduceAxes, false), counts)

	centered := b.Sub(x, plan.Align(b, mean))
	sq := b.Mul(b.Mul(centered, centered), bmask)
	variance := b.AddScalar(b.Div(b.SumAxes(sq, plan.ReduceAxes, false), counts), opts.Eps)

	invStd := b.Rsqrt(variance)

	y := applyNorm(b, x,
		plan.Align(b, mean), plan.Align(b, invStd),
		plan.Align(b, gamma), plan.Align(b, beta))

	// Padding must never leak nonzero signal downstream.
	y = b.Mul(y, maskF)

	// Bessel's correction for the unbiased running variance estimate.
	adjust := b.Div(counts, b.ClampMin(b.AddScalar(counts, -1), 1))

	newMean := b.Add(b.MulScalar(running.Mean, opts.Decay), b.MulScalar(mean, 1-opts.Decay))
	newVar := b.Add(b.MulScalar(running.Var, opts.Decay),
		b.MulScalar(b.Mul(adjust, variance), 1-opts.Decay))

	// Last in-place mutation: everything above succeeded.
	copy(running.Mean.Data(), newMean.Data())
	copy(running.Var.Data(), newVar.Data())

	state := &State{
		plan:    plan,
		mean:    mean,
		invStd:  invStd,
		mask:    maskF,
		bmask:   bmask,
		counts:  counts,
		running: running,
		xShape:  x.Shape().Clone(),
		backend: b,
	}
	return y, state, nil
}

// Backward computes the gradients of a BatchNorm forward call given the
// upstream gradient gy. The reduction terms mirror the forward masking:
// gbeta and ggamma sum over active elements only, while gx is computed
// over the full tensor and then zeroed at masked-out positions.
//
// Consumes the state: a second call fails with ErrStateMisuse.
func (s *State) Backward(x, gamma, gy *tensor.RawTensor) (gx, ggamma, gbeta *tensor.RawTensor, err error) {
	if s == nil || s.backend == nil {
		return nil, nil, nil, ErrStateMisuse
	}
	if s.consumed {
		return nil, nil, nil, ErrStateMisuse
	}
	if !gy.Shape().Equal(s.xShape) || !x.Shape().Equal(s.xShape) {
		return nil, nil, nil, shapeErrorf("gradient shape %v does not match input shape %v", gy.Shape(), s.xShape)
	}
	if !gamma.Shape().Equal(s.mean.Shape()) {
		return nil, nil, nil, shapeErrorf("gamma shape %v does not match channel shape %v", gamma.Shape(), s.mean.Shape())
	}

	b := s.backend
	plan := s.plan

	gbeta = b.SumAxes(b.Mul(gy, s.bmask), plan.ReduceAxes, false)

	hat := xHat(b, x, plan.Align(b, s.mean), plan.Align(b, s.invStd))
	ggamma = b.SumAxes(b.Mul(b.Mul(gy, hat), s.bmask), plan.ReduceAxes, false)

	// gx = (gamma*invStd) * (gy - (xhat*ggamma + gbeta)/m) over the full
	// tensor: gradient reaches every contributing element first, masking
	// is applied after.
	invM := b.Reciprocal(s.counts)
	inner := b.Mul(b.Add(b.Mul(hat, plan.Align(b, ggamma)), plan.Align(b, gbeta)), plan.Align(b, invM))
	gx = b.Mul(plan.Align(b, b.Mul(gamma, s.invStd)), b.Sub(gy, inner))
	gx = b.Mul(gx, s.mask)

	s.consumed = true
	return gx, ggamma, gbeta, nil
}

func validateBatchNorm(x, gamma, beta, mask *tensor.RawTensor, opts Options) error {
	if err := validateAffine(x, gamma, beta); err != nil {
		return err
	}

	if mask == nil {
		return configErrorf("mask is required")
	}
	if mask.DType() != tensor.Bool && mask.DType() != x.DType() {
		return shapeErrorf("mask dtype %s is neither bool nor %s", mask.DType(), x.DType())
	}
	if !mask.Shape().BroadcastableTo(x.Shape()) {
		return shapeErrorf("mask shape %v is not broadcastable to input shape %v", mask.Shape(), x.Shape())
	}

	if opts.Eps <= 0 {
		return configErrorf("eps must be positive, got %g", opts.Eps)
	}
	if opts.Decay < 0 || opts.Decay >= 1 {
		return configErrorf("decay must be in [0,1), got %g", opts.Decay)
	}
	if r := opts.Running; r != nil {
		if (r.Mean == nil) != (r.Var == nil) {
			return configErrorf("running mean and variance must be supplied together")
		}
		if r.Mean != nil {
			if !r.Mean.Shape().Equal(gamma.Shape()) || !r.Var.Shape().Equal(gamma.Shape()) {
				return shapeErrorf("running statistics shapes %v/%v do not match channel shape %v",
					r.Mean.Shape(), r.Var.Shape(), gamma.Shape())
			}
			if r.Mean.DType() != x.DType() || r.Var.DType() != x.DType() {
				return shapeErrorf("running statistics dtype does not match input dtype %s", x.DType())
			}
		}
	}

	return nil
}

// validateAffine checks the x/gamma/beta relationships shared by the
// masked and fixed variants.
func validateAffine(x, gamma, beta *tensor.RawTensor) error {
	if !x.DType().IsFloat() {
		return shapeErrorf("input dtype must be floating point, got %s", x.DType())
	}
	if gamma.DType() != x.DType() || beta.DType() != x.DType() {
		return shapeErrorf("gamma/beta dtype (%s/%s) does not match input dtype %s",
			gamma.DType(), beta.DType(), x.DType())
	}
	if !gamma.Shape().Equal(beta.Shape()) {
		return shapeErrorf("gamma shape %v does not match beta shape %v", gamma.Shape(), beta.Shape())
	}

	M := gamma.Shape().Rank()
	if x.Shape().Rank() < M+1 {
		return shapeErrorf("input rank %d must be at least channel rank %d + 1", x.Shape().Rank(), M)
	}
	channel := tensor.Shape(x.Shape()[1 : 1+M])
	if !channel.Equal(gamma.Shape()) {
		return shapeErrorf("input channel shape %v does not match gamma shape %v", channel, gamma.Shape())
	}

	return nil
}

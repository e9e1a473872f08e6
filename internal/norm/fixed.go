package norm

import (
	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// FixedState carries the values a FixedBatchNorm forward call caches for
// its single matching Backward call.
type FixedState struct {
	plan     Plan
	invStd   *tensor.RawTensor // channel-shaped 1/sqrt(var+eps)
	invVar   *tensor.RawTensor // channel-shaped 1/(var+eps)
	eps      float64
	xShape   tensor.Shape
	backend  tensor.Backend
	consumed bool
}

// FixedBatchNorm normalizes x with externally supplied frozen statistics.
// No masking is applied and no running averages are updated; this is the
// inference-mode counterpart of BatchNorm.
//
// mean and variance must share gamma's channel shape and x's dtype.
// eps must be non-negative; with eps=0, mean=0 and variance=1 the call
// reduces exactly to gamma*x+beta.
func FixedBatchNorm(b tensor.Backend, x, gamma, beta, mean, variance *tensor.RawTensor, eps float64) (*tensor.RawTensor, *FixedState, error) {
	if err := validateFixedBatchNorm(x, gamma, beta, mean, variance, eps); err != nil {
		return nil, nil, err
	}

	plan := NewPlan(x.Shape().Rank(), gamma.Shape())

	invVar := b.Reciprocal(b.AddScalar(variance, eps))
	invStd := b.Sqrt(invVar)

	y := applyNorm(b, x,
		plan.Align(b, mean), plan.Align(b, invStd),
		plan.Align(b, gamma), plan.Align(b, beta))

	state := &FixedState{
		plan:    plan,
		invStd:  invStd,
		invVar:  invVar,
		eps:     eps,
		xShape:  x.Shape().Clone(),
		backend: b,
	}
	return y, state, nil
}

// NewFixedBackward builds a backward-only state for callers that saved the
// forward inputs but not the derived inverse statistics; Backward then
// recomputes 1/(var+eps) and 1/sqrt(var+eps) from the variance argument.
func NewFixedBackward(b tensor.Backend, xShape, channel tensor.Shape, eps float64) *FixedState {
	return &FixedState{
		plan:    NewPlan(xShape.Rank(), channel),
		eps:     eps,
		xShape:  xShape.Clone(),
		backend: b,
	}
}

// channelShape reads the channel dimensions back out of the cached input
// shape.
func (s *FixedState) channelShape() tensor.Shape {
	channel := make(tensor.Shape, 0, len(s.plan.ChannelAxes))
	for _, ax := range s.plan.ChannelAxes {
		channel = append(channel, s.xShape[ax])
	}
	return channel
}

// Backward computes the gradients of a FixedBatchNorm forward call, all
// over the full unmasked tensor:
//
//	gx     = gamma*invStd * gy
//	gbeta  = sum(gy, reduce axes)
//	ggamma = sum(xhat*gy, reduce axes)
//	gmean  = -gamma*invStd * gbeta
//	gvar   = -0.5 * gamma * invVar * ggamma
//
// invStd/invVar are recomputed from variance when not cached. Consumes the
// state: a second call fails with ErrStateMisuse.
func (s *FixedState) Backward(x, gamma, mean, variance, gy *tensor.RawTensor) (gx, ggamma, gbeta, gmean, gvar *tensor.RawTensor, err error) {
	if s == nil || s.backend == nil {
		return nil, nil, nil, nil, nil, ErrStateMisuse
	}
	if s.consumed {
		return nil, nil, nil, nil, nil, ErrStateMisuse
	}
	if !gy.Shape().Equal(s.xShape) || !x.Shape().Equal(s.xShape) {
		return nil, nil, nil, nil, nil, shapeErrorf("gradient shape %v does not match input shape %v", gy.Shape(), s.xShape)
	}
	channel := s.channelShape()
	if !gamma.Shape().Equal(channel) || !mean.Shape().Equal(channel) || !variance.Shape().Equal(channel) {
		return nil, nil, nil, nil, nil, shapeErrorf("gamma/mean/variance shapes %v/%v/%v do not match channel shape %v",
			gamma.Shape(), mean.Shape(), variance.Shape(), channel)
	}
	if gamma.DType() != x.DType() || mean.DType() != x.DType() || variance.DType() != x.DType() {
		return nil, nil, nil, nil, nil, shapeErrorf("gamma/mean/variance dtype does not match input dtype %s", x.DType())
	}

	b := s.backend
	plan := s.plan

	invStd, invVar := s.invStd, s.invVar
	if invStd == nil || invVar == nil {
		invVar = b.Reciprocal(b.AddScalar(variance, s.eps))
		invStd = b.Sqrt(invVar)
	}

	gammaOverStd := b.Mul(gamma, invStd)
	hat := xHat(b, x, plan.Align(b, mean), plan.Align(b, invStd))

	gx = b.Mul(plan.Align(b, gammaOverStd), gy)
	gbeta = b.SumAxes(gy, plan.ReduceAxes, false)
	ggamma = b.SumAxes(b.Mul(hat, gy), plan.ReduceAxes, false)
	gmean = b.MulScalar(b.Mul(gammaOverStd, gbeta), -1)
	gvar = b.MulScalar(b.Mul(b.Mul(gamma, invVar), ggamma), -0.5)

	s.consumed = true
	return gx, ggamma, gbeta, gmean, gvar, nil
}

func validateFixedBatchNorm(x, gamma, beta, mean, variance *tensor.RawTensor, eps float64) error {
	if err := validateAffine(x, gamma, beta); err != nil {
		return err
	}

	if !mean.Shape().Equal(gamma.Shape()) || !variance.Shape().Equal(gamma.Shape()) {
		return shapeErrorf("mean/variance shapes %v/%v do not match channel shape %v",
			mean.Shape(), variance.Shape(), gamma.Shape())
	}
	if mean.DType() != x.DType() || variance.DType() != x.DType() {
		return shapeErrorf("mean/variance dtype (%s/%s) does not match input dtype %s",
			mean.DType(), variance.DType(), x.DType())
	}

	if eps < 0 {
		return configErrorf("eps must be non-negative, got %g", eps)
	}

	return nil
}

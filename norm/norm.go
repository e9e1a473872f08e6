// Copyright 2026 The voxnorm Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package norm

import (
	"github.com/voxnet-ml/voxnorm/internal/norm"
	"github.com/voxnet-ml/voxnorm/tensor"
)

// Default option values.
const (
	DefaultEps   = norm.DefaultEps
	DefaultDecay = norm.DefaultDecay
)

// Error kinds surfaced by the normalization API. Match with errors.Is.
var (
	ErrShape       = norm.ErrShape
	ErrConfig      = norm.ErrConfig
	ErrStateMisuse = norm.ErrStateMisuse
)

// Options configures a BatchNorm forward call.
type Options = norm.Options

// RunningStats holds caller-owned exponentially-smoothed mean/variance
// estimates, updated in place by BatchNorm.
type RunningStats = norm.RunningStats

// DefaultOptions returns Options with eps=2e-5 and decay=0.9.
func DefaultOptions() Options {
	return norm.DefaultOptions()
}

// NewRunningStats allocates a zero-initialized running-statistics pair for
// the given channel shape.
func NewRunningStats[T tensor.Float, B tensor.Backend](channel tensor.Shape, b B) *RunningStats {
	mean := tensor.Zeros[T](channel, b)
	variance := tensor.Zeros[T](channel, b)
	return &RunningStats{Mean: mean.Raw(), Var: variance.Raw()}
}

// State is the backward-capable handle returned by BatchNorm. It is
// consumed by its single matching Backward call.
type State[T tensor.Float, B tensor.Backend] struct {
	inner   *norm.State
	backend B
}

// Running returns the running mean and variance updated by the forward
// call (the caller-supplied pair, or the allocated one when none was given).
func (s *State[T, B]) Running() (mean, variance *tensor.Tensor[T, B]) {
	r := s.inner.Running()
	return tensor.New[T, B](r.Mean, s.backend), tensor.New[T, B](r.Var, s.backend)
}

// Backward computes gradients w.r.t. x, gamma, and beta from the upstream
// gradient gy. Reduction terms are restricted to mask-active elements; gx
// is zeroed at masked-out positions. Consumes the state.
func (s *State[T, B]) Backward(x, gamma, gy *tensor.Tensor[T, B]) (gx, ggamma, gbeta *tensor.Tensor[T, B], err error) {
	if s == nil || s.inner == nil {
		return nil, nil, nil, ErrStateMisuse
	}
	rgx, rggamma, rgbeta, err := s.inner.Backward(x.Raw(), gamma.Raw(), gy.Raw())
	if err != nil {
		return nil, nil, nil, err
	}
	return tensor.New[T, B](rgx, s.backend), tensor.New[T, B](rggamma, s.backend), tensor.New[T, B](rgbeta, s.backend), nil
}

// BatchNorm is training-mode batch normalization for variable-length voxel
// sequences: batch statistics are computed over only the positions mask
// marks active, the affine transform is applied over the full dense tensor,
// masked-out output positions are zeroed, and running statistics are
// updated in place.
//
// x has shape (batch, channel..., spatial...); gamma and beta share the
// channel shape x.shape[1:1+gamma.rank]; mask must be broadcastable to x's
// shape, true marking real data.
func BatchNorm[T tensor.Float, B tensor.Backend](x, gamma, beta *tensor.Tensor[T, B], mask *tensor.Tensor[bool, B], opts Options) (*tensor.Tensor[T, B], *State[T, B], error) {
	y, st, err := norm.BatchNorm(x.Backend(), x.Raw(), gamma.Raw(), beta.Raw(), mask.Raw(), opts)
	if err != nil {
		return nil, nil, err
	}
	return tensor.New[T, B](y, x.Backend()), &State[T, B]{inner: st, backend: x.Backend()}, nil
}

// FixedState is the backward-capable handle returned by FixedBatchNorm.
type FixedState[T tensor.Float, B tensor.Backend] struct {
	inner   *norm.FixedState
	backend B
}

// Backward computes gradients w.r.t. x, gamma, beta, mean, and variance
// from the upstream gradient gy, all over the full unmasked tensor.
// Consumes the state.
func (s *FixedState[T, B]) Backward(x, gamma, mean, variance, gy *tensor.Tensor[T, B]) (gx, ggamma, gbeta, gmean, gvar *tensor.Tensor[T, B], err error) {
	if s == nil || s.inner == nil {
		return nil, nil, nil, nil, nil, ErrStateMisuse
	}
	rgx, rggamma, rgbeta, rgmean, rgvar, err := s.inner.Backward(x.Raw(), gamma.Raw(), mean.Raw(), variance.Raw(), gy.Raw())
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	b := s.backend
	return tensor.New[T, B](rgx, b), tensor.New[T, B](rggamma, b), tensor.New[T, B](rgbeta, b),
		tensor.New[T, B](rgmean, b), tensor.New[T, B](rgvar, b), nil
}

// FixedBatchNorm is inference-mode batch normalization with externally
// supplied frozen statistics. No masking is applied to the statistics and
// no running averages are updated; masking padded inputs is the caller's
// responsibility in this mode.
func FixedBatchNorm[T tensor.Float, B tensor.Backend](x, gamma, beta, mean, variance *tensor.Tensor[T, B], eps float64) (*tensor.Tensor[T, B], *FixedState[T, B], error) {
	y, st, err := norm.FixedBatchNorm(x.Backend(), x.Raw(), gamma.Raw(), beta.Raw(), mean.Raw(), variance.Raw(), eps)
	if err != nil {
		return nil, nil, err
	}
	return tensor.New[T, B](y, x.Backend()), &FixedState[T, B]{inner: st, backend: x.Backend()}, nil
}

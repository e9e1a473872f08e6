package norm

import (
	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// fusedNormalizer is an optional backend capability: a single fused kernel
// for the dense normalize step. The WebGPU backend implements it; other
// backends get the composed elementwise fallback.
type fusedNormalizer interface {
	FusedNormalize(x, mean, invStd, gamma, beta *tensor.RawTensor) *tensor.RawTensor
}

// applyNorm computes gamma*(x-mean)*invStd + beta over the full tensor.
// mean, invStd, gamma, and beta must already be aligned to x's rank
// (broadcastable to x's shape).
func applyNorm(b tensor.Backend, x, mean, invStd, gamma, beta *tensor.RawTensor) *tensor.RawTensor {
	if f, ok := b.(fusedNormalizer); ok {
		return f.FusedNormalize(x, mean, invStd, gamma, beta)
	}
	return b.Add(b.Mul(b.Mul(b.Sub(x, mean), invStd), gamma), beta)
}

// xHat computes the normalized input (x-mean)*invStd over the full tensor.
// mean and invStd must already be aligned to x's rank.
func xHat(b tensor.Backend, x, mean, invStd *tensor.RawTensor) *tensor.RawTensor {
	return b.Mul(b.Sub(x, mean), invStd)
}

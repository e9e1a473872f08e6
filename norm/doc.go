// Copyright 2026 The voxnorm Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package norm provides masked and fixed-statistics batch normalization
// for point-cloud voxel networks.
//
// # Overview
//
// Voxel feature encoders process variable-length point lists padded to a
// dense tensor. Standard batch normalization would fold the zero padding
// into its statistics; BatchNorm here computes mean and variance over only
// the positions an activity mask marks as real, normalizes the full dense
// tensor, and zeroes the padded positions of the output. FixedBatchNorm is
// the inference-mode variant using frozen statistics.
//
// Each forward call returns a backward-capable state; gradients are taken
// by passing the upstream gradient to the state's Backward method. A state
// is consumed by exactly one Backward call.
//
// # Basic Usage
//
//	backend := cpu.New()
//
//	x := tensor.Randn[float32](tensor.Shape{4, 8, 16}, backend)
//	gamma := tensor.Ones[float32](tensor.Shape{8}, backend)
//	beta := tensor.Zeros[float32](tensor.Shape{8}, backend)
//	mask := tensor.Full[bool](tensor.Shape{4, 1, 16}, true, backend)
//
//	y, state, err := norm.BatchNorm(x, gamma, beta, mask, norm.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gy := tensor.Ones[float32](y.Shape(), backend)
//	gx, ggamma, gbeta, err := state.Backward(x, gamma, gy)
//
// # Concurrency
//
// Calls are synchronous and self-contained. The only shared mutable state
// is the caller-owned running-statistics pair; concurrent forward calls
// mutating the same pair require external synchronization.
package norm

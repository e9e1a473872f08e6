// Copyright 2026 The voxnorm Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend for tensor operations.
package cpu

import (
	internalcpu "github.com/voxnet-ml/voxnorm/internal/backend/cpu"
	"github.com/voxnet-ml/voxnorm/tensor"
)

// Backend is the CPU backend implementation.
//
// It provides pure Go kernels for all tensor operations, with
// gonum-accelerated float64 paths.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
func New() *Backend {
	return internalcpu.New()
}

package norm

import (
	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

// Plan describes how channel-shaped arrays (gamma, beta, mean, var) align
// with the full input tensor. The channel axes are axes 1..len(channel) of
// the input; everything else, including the batch axis 0, is reduced over
// when computing statistics.
//
// A Plan is pure metadata: it is derived once per forward call and reused
// by the matching backward call.
type Plan struct {
	// ChannelAxes are the input axes covered by the channel shape.
	ChannelAxes []int

	// ReduceAxes are the input axes statistics are computed over.
	ReduceAxes []int

	// expand is the channel shape padded with singleton dimensions to the
	// input rank, so channel-shaped arrays broadcast against the input.
	expand tensor.Shape
}

// NewPlan derives the broadcasting plan for an input of rank xRank and the
// given channel shape. Assumes the channel axes start at input axis 1; this
// mirrors the voxel-network tensor layout (batch, channel..., spatial...).
func NewPlan(xRank int, channel tensor.Shape) Plan {
	head := len(channel) + 1

	channelAxes := make([]int, len(channel))
	for i := range channelAxes {
		channelAxes[i] = i + 1
	}

	reduceAxes := make([]int, 0, xRank-len(channel))
	reduceAxes = append(reduceAxes, 0)
	for ax := head; ax < xRank; ax++ {
		reduceAxes = append(reduceAxes, ax)
	}

	expand := make(tensor.Shape, xRank)
	expand[0] = 1
	for i, dim := range channel {
		expand[i+1] = dim
	}
	for ax := head; ax < xRank; ax++ {
		expand[ax] = 1
	}

	return Plan{ChannelAxes: channelAxes, ReduceAxes: reduceAxes, expand: expand}
}

// ExpandShape returns the channel shape with singletons inserted so it
// aligns with the input for elementwise operations.
func (p Plan) ExpandShape() tensor.Shape {
	return p.expand.Clone()
}

// Align reshapes a channel-shaped tensor to the broadcast-aligned shape.
// This is a metadata-only operation.
func (p Plan) Align(b tensor.Backend, t *tensor.RawTensor) *tensor.RawTensor {
	return b.Reshape(t, p.expand)
}

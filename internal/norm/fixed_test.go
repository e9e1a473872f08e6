package norm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxnet-ml/voxnorm/internal/backend/cpu"
	"github.com/voxnet-ml/voxnorm/internal/tensor"
)

func TestFixedBatchNormIdentityStatistics(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(20))

	const N, C, S = 2, 3, 4
	shape := tensor.Shape{N, C, S}
	xData := randomData(rng, shape.NumElements())
	gammaData := []float64{2, -1, 0.5}
	betaData := []float64{1, 0, -3}

	x := newRaw64(t, xData, shape)
	gamma := newRaw64(t, gammaData, tensor.Shape{C})
	beta := newRaw64(t, betaData, tensor.Shape{C})
	mean := newRaw64(t, []float64{0, 0, 0}, tensor.Shape{C})
	variance := newRaw64(t, []float64{1, 1, 1}, tensor.Shape{C})

	// With mean=0, var=1, eps=0 the transform must reduce to gamma*x+beta
	// exactly, not merely within tolerance.
	y, _, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, 0)
	require.NoError(t, err)

	for i, v := range y.AsFloat64() {
		ch := (i / S) % C
		want := gammaData[ch]*xData[i] + betaData[ch]
		assert.Equal(t, want, v, "element %d", i)
	}
}

func TestFixedBatchNormMatchesReference(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(21))

	const N, C, S = 3, 2, 5
	shape := tensor.Shape{N, C, S}
	xData := randomData(rng, shape.NumElements())
	gammaData := []float64{1.5, 0.75}
	betaData := []float64{-0.5, 2}
	meanData := []float64{0.3, -1.1}
	varData := []float64{1.9, 0.4}
	const eps = 1e-3

	x := newRaw64(t, xData, shape)
	gamma := newRaw64(t, gammaData, tensor.Shape{C})
	beta := newRaw64(t, betaData, tensor.Shape{C})
	mean := newRaw64(t, meanData, tensor.Shape{C})
	variance := newRaw64(t, varData, tensor.Shape{C})

	y, _, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, eps)
	require.NoError(t, err)

	for i, v := range y.AsFloat64() {
		ch := (i / S) % C
		invStd := 1 / math.Sqrt(varData[ch]+eps)
		want := gammaData[ch]*(xData[i]-meanData[ch])*invStd + betaData[ch]
		assertClose(t, want, v, 1e-12, 1e-12, "output")
	}
}

func TestFixedBatchNormValidation(t *testing.T) {
	b := cpu.New()

	shape := tensor.Shape{2, 3, 4}
	x := newRaw64(t, make([]float64, shape.NumElements()), shape)
	gamma := newRaw64(t, []float64{1, 1, 1}, tensor.Shape{3})
	beta := newRaw64(t, []float64{0, 0, 0}, tensor.Shape{3})
	mean := newRaw64(t, []float64{0, 0, 0}, tensor.Shape{3})
	variance := newRaw64(t, []float64{1, 1, 1}, tensor.Shape{3})

	t.Run("mean shape mismatch", func(t *testing.T) {
		badMean := newRaw64(t, []float64{0, 0}, tensor.Shape{2})
		_, _, err := FixedBatchNorm(b, x, gamma, beta, badMean, variance, DefaultEps)
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("variance dtype mismatch", func(t *testing.T) {
		badVar := newRaw32(t, []float32{1, 1, 1}, tensor.Shape{3})
		_, _, err := FixedBatchNorm(b, x, gamma, beta, mean, badVar, DefaultEps)
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("negative eps", func(t *testing.T) {
		_, _, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, -1e-6)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("gamma beta mismatch", func(t *testing.T) {
		badBeta := newRaw64(t, []float64{0}, tensor.Shape{1})
		_, _, err := FixedBatchNorm(b, x, gamma, badBeta, mean, variance, DefaultEps)
		assert.ErrorIs(t, err, ErrShape)
	})
}

func TestFixedBatchNormStateConsumed(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(22))

	shape := tensor.Shape{2, 2, 3}
	x := newRaw64(t, randomData(rng, shape.NumElements()), shape)
	gamma := newRaw64(t, []float64{1, 2}, tensor.Shape{2})
	beta := newRaw64(t, []float64{0, 1}, tensor.Shape{2})
	mean := newRaw64(t, []float64{0.5, -0.5}, tensor.Shape{2})
	variance := newRaw64(t, []float64{1.5, 0.5}, tensor.Shape{2})
	gy := newRaw64(t, randomData(rng, shape.NumElements()), shape)

	_, state, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, DefaultEps)
	require.NoError(t, err)

	_, _, _, _, _, err = state.Backward(x, gamma, mean, variance, gy)
	require.NoError(t, err)

	_, _, _, _, _, err = state.Backward(x, gamma, mean, variance, gy)
	assert.ErrorIs(t, err, ErrStateMisuse)

	var nilState *FixedState
	_, _, _, _, _, err = nilState.Backward(x, gamma, mean, variance, gy)
	assert.ErrorIs(t, err, ErrStateMisuse)
}

func TestFixedBackwardShapeChecks(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(23))

	shape := tensor.Shape{2, 3, 4}
	x := newRaw64(t, randomData(rng, shape.NumElements()), shape)
	gamma := newRaw64(t, []float64{1, 2, 3}, tensor.Shape{3})
	beta := newRaw64(t, []float64{0, 0, 0}, tensor.Shape{3})
	mean := newRaw64(t, []float64{0.5, -0.5, 0}, tensor.Shape{3})
	variance := newRaw64(t, []float64{1.5, 0.5, 1}, tensor.Shape{3})
	gy := newRaw64(t, randomData(rng, shape.NumElements()), shape)

	_, state, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, DefaultEps)
	require.NoError(t, err)

	badGy := newRaw64(t, make([]float64, 6), tensor.Shape{2, 3})
	_, _, _, _, _, err = state.Backward(x, gamma, mean, variance, badGy)
	assert.ErrorIs(t, err, ErrShape)

	badGamma := newRaw64(t, []float64{1, 1}, tensor.Shape{2})
	_, _, _, _, _, err = state.Backward(x, badGamma, mean, variance, gy)
	assert.ErrorIs(t, err, ErrShape)

	badMean := newRaw64(t, []float64{0}, tensor.Shape{1})
	_, _, _, _, _, err = state.Backward(x, gamma, badMean, variance, gy)
	assert.ErrorIs(t, err, ErrShape)

	badVar := newRaw32(t, []float32{1, 1, 1}, tensor.Shape{3})
	_, _, _, _, _, err = state.Backward(x, gamma, mean, badVar, gy)
	assert.ErrorIs(t, err, ErrShape)

	// A rejected backward must not consume the state.
	_, _, _, _, _, err = state.Backward(x, gamma, mean, variance, gy)
	assert.NoError(t, err)
}

func TestFixedBackwardRecomputePath(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(23))

	shape := tensor.Shape{3, 2, 4}
	channel := tensor.Shape{2}
	x := newRaw64(t, randomData(rng, shape.NumElements()), shape)
	gamma := newRaw64(t, []float64{1.3, 0.7}, channel)
	beta := newRaw64(t, []float64{0, 0}, channel)
	mean := newRaw64(t, []float64{0.2, -0.4}, channel)
	variance := newRaw64(t, []float64{0.9, 1.6}, channel)
	gy := newRaw64(t, randomData(rng, shape.NumElements()), shape)
	const eps = 1e-3

	_, state, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, eps)
	require.NoError(t, err)
	gx1, ggamma1, gbeta1, gmean1, gvar1, err := state.Backward(x, gamma, mean, variance, gy)
	require.NoError(t, err)

	// A backward-only state must recompute the inverse statistics from the
	// supplied variance and produce the same gradients.
	recomputed := NewFixedBackward(b, shape, channel, eps)
	gx2, ggamma2, gbeta2, gmean2, gvar2, err := recomputed.Backward(x, gamma, mean, variance, gy)
	require.NoError(t, err)

	assert.Equal(t, gx1.AsFloat64(), gx2.AsFloat64())
	assert.Equal(t, ggamma1.AsFloat64(), ggamma2.AsFloat64())
	assert.Equal(t, gbeta1.AsFloat64(), gbeta2.AsFloat64())
	assert.Equal(t, gmean1.AsFloat64(), gmean2.AsFloat64())
	assert.Equal(t, gvar1.AsFloat64(), gvar2.AsFloat64())
}

// gradCheckFixed verifies the fixed-statistics analytic gradients against
// central finite differences of the scalar loss sum(w*y). Unlike the masked
// variant, mean and variance are free inputs here, so their gradients are
// checked too.
func gradCheckFixed(t *testing.T, seed int64, shape, channel tensor.Shape) {
	t.Helper()
	b := cpu.New()
	rng := rand.New(rand.NewSource(seed))

	xData := randomData(rng, shape.NumElements())
	gammaData := make([]float64, channel.NumElements())
	betaData := randomData(rng, channel.NumElements())
	meanData := randomData(rng, channel.NumElements())
	varData := make([]float64, channel.NumElements())
	for i := range gammaData {
		gammaData[i] = 0.5 + rng.Float64()
		varData[i] = 0.5 + rng.Float64()
	}
	w := randomData(rng, shape.NumElements())
	const eps = 1e-3

	loss := func() float64 {
		x := newRaw64(t, xData, shape)
		gamma := newRaw64(t, gammaData, channel)
		beta := newRaw64(t, betaData, channel)
		mean := newRaw64(t, meanData, channel)
		variance := newRaw64(t, varData, channel)
		y, _, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, eps)
		require.NoError(t, err)
		total := 0.0
		for i, v := range y.AsFloat64() {
			total += w[i] * v
		}
		return total
	}

	numericGrad := func(param []float64, i int) float64 {
		const h = 1e-6
		orig := param[i]
		param[i] = orig + h
		lp := loss()
		param[i] = orig - h
		lm := loss()
		param[i] = orig
		return (lp - lm) / (2 * h)
	}

	x := newRaw64(t, xData, shape)
	gamma := newRaw64(t, gammaData, channel)
	beta := newRaw64(t, betaData, channel)
	mean := newRaw64(t, meanData, channel)
	variance := newRaw64(t, varData, channel)
	gy := newRaw64(t, w, shape)

	_, state, err := FixedBatchNorm(b, x, gamma, beta, mean, variance, eps)
	require.NoError(t, err)
	gx, ggamma, gbeta, gmean, gvar, err := state.Backward(x, gamma, mean, variance, gy)
	require.NoError(t, err)

	const atol, rtol = 1e-5, 1e-4
	for i, g := range gx.AsFloat64() {
		assertClose(t, numericGrad(xData, i), g, atol, rtol, "gx")
	}
	for i, g := range ggamma.AsFloat64() {
		assertClose(t, numericGrad(gammaData, i), g, atol, rtol, "ggamma")
	}
	for i, g := range gbeta.AsFloat64() {
		assertClose(t, numericGrad(betaData, i), g, atol, rtol, "gbeta")
	}
	for i, g := range gmean.AsFloat64() {
		assertClose(t, numericGrad(meanData, i), g, atol, rtol, "gmean")
	}
	for i, g := range gvar.AsFloat64() {
		assertClose(t, numericGrad(varData, i), g, atol, rtol, "gvar")
	}
}

func TestFixedBatchNormGradients(t *testing.T) {
	t.Run("rank3 seed24", func(t *testing.T) {
		gradCheckFixed(t, 24, tensor.Shape{2, 3, 4}, tensor.Shape{3})
	})
	t.Run("rank3 seed25", func(t *testing.T) {
		gradCheckFixed(t, 25, tensor.Shape{4, 2, 3}, tensor.Shape{2})
	})
	t.Run("rank4 channel rank2", func(t *testing.T) {
		gradCheckFixed(t, 26, tensor.Shape{2, 2, 2, 3}, tensor.Shape{2, 2})
	})
}

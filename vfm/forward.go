package vfm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Log-variances are clamped before exponentiation so a degenerate
// posterior cannot overflow exp.
const (
	lvClampMin = -100.0
	lvClampMax = 30.0
)

// forwardCache holds the sampled values and intermediates of the most
// recent Forward call, consumed by Backward.
type forwardCache struct {
	bs, nf int
	frac   float64

	val [][]float64
	loc [][]int

	pred []float64
	y    []float64

	biasSample []float64   // per row
	coef       [][]float64 // sampled slope coefficient per (row, slot)
	coefMu     [][]float64 // posterior mean per (row, slot)
	vi         [][]float64 // sampled latent vectors per row, nf*nDim row-major
	viMu       [][]float64 // posterior means per row, nf*nDim row-major
}

// Forward runs the model on one mini-batch of sparse rows.
//
// val holds the non-zero feature values and loc the matching feature
// ids, both of shape (batch, slots); y is the regression target per
// row. isTest flags rows whose parameters should be sampled at the
// posterior mean (1) instead of from the full posterior (0): the flag
// scales the log-variance floor, collapsing the sampling variance to
// effectively zero for held-out rows.
//
// The returned Metrics carries the scalar training loss
// (MSE + KL regularization scaled by batch/totalNobs) together with
// the reporting quantities; the same record is sent to the configured
// Reporter. Shape mismatches fail before any cached state is touched.
func (m *VFM) Forward(val [][]float64, loc [][]int, y, isTest []float64) (Metrics, error) {
	bs := len(val)
	if bs == 0 {
		return Metrics{}, fmt.Errorf("vfm: empty batch")
	}
	nf := len(val[0])
	if nf == 0 {
		return Metrics{}, fmt.Errorf("vfm: rows have no feature slots")
	}
	if len(loc) != bs || len(y) != bs || len(isTest) != bs {
		return Metrics{}, fmt.Errorf("vfm: batch size mismatch: val %d, loc %d, y %d, isTest %d",
			bs, len(loc), len(y), len(isTest))
	}
	for i := 0; i < bs; i++ {
		if len(val[i]) != nf || len(loc[i]) != nf {
			return Metrics{}, fmt.Errorf("vfm: row %d has %d values and %d indices, want %d slots",
				i, len(val[i]), len(loc[i]), nf)
		}
		for j, f := range loc[i] {
			if f < 0 || f >= m.nFeatures {
				return Metrics{}, fmt.Errorf("vfm: feature id %d at row %d slot %d out of range [0, %d)",
					f, i, j, m.nFeatures)
			}
		}
	}

	mask := m.Mask(bs, nf)
	if m.maskNF != nf {
		return Metrics{}, fmt.Errorf("vfm: slot width changed from %d to %d at batch size %d; the mask cache requires a fixed slot width",
			m.maskNF, nf, bs)
	}

	c := &forwardCache{
		bs:   bs,
		nf:   nf,
		frac: float64(bs) / m.totalNobs,
		val:  val,
		loc:  loc,
		y:    y,
	}

	// Global bias, one sample per row.
	c.biasSample = make([]float64, bs)
	for i := 0; i < bs; i++ {
		lv := m.biasLv.Data[0] + isTest[i]*m.lvFloor
		c.biasSample[i] = m.sampleGaussian(m.biasMu.Data[0], lv)
	}

	// Linear term: sampled slope per active slot, weighted by the
	// slot's feature value and summed within each row.
	c.coef = make([][]float64, bs)
	c.coefMu = make([][]float64, bs)
	slope := make([]float64, bs)
	for i := 0; i < bs; i++ {
		floor := isTest[i] * m.lvFloor
		c.coef[i] = make([]float64, nf)
		c.coefMu[i] = make([]float64, nf)
		for j := 0; j < nf; j++ {
			f := loc[i][j]
			mu := m.slopeMu.At(f, 0) + m.priorSlopeMu.Data[0]
			lv := m.slopeLv.At(f, 0) + m.priorSlopeLv.Data[0] + floor
			c.coefMu[i][j] = mu
			c.coef[i][j] = m.sampleGaussian(mu, lv)
		}
		slope[i] = floats.Dot(c.coef[i], val[i])
	}

	// Interaction term: per row, the Gram matrix of sampled latent
	// vectors times the outer product of feature values, with the
	// diagonal masked out, summed over all ordered pairs. The double
	// sum counts every pair twice.
	// TODO: switch to the linear-cost identity used by package fm to
	// make this O(k*N) instead of O(k*N^2).
	c.vi = make([][]float64, bs)
	c.viMu = make([][]float64, bs)
	intx := make([]float64, bs)
	vij := mat.NewDense(nf, nf, nil)
	for i := 0; i < bs; i++ {
		floor := isTest[i] * m.lvFloor
		vi := make([]float64, nf*m.nDim)
		viMu := make([]float64, nf*m.nDim)
		for j := 0; j < nf; j++ {
			f := loc[i][j]
			for d := 0; d < m.nDim; d++ {
				mu := m.latentMu.At(f, d) + m.priorLatentMu.Data[d]
				lv := m.latentLv.At(f, d) + m.priorLatentLv.Data[d] + floor
				viMu[j*m.nDim+d] = mu
				vi[j*m.nDim+d] = m.sampleGaussian(mu, lv)
			}
		}
		c.vi[i] = vi
		c.viMu[i] = viMu

		v := mat.NewDense(nf, m.nDim, vi)
		vij.Mul(v, v.T())
		sum := 0.0
		for a := 0; a < nf; a++ {
			xa := val[i][a]
			for b := 0; b < nf; b++ {
				sum += vij.At(a, b) * xa * val[i][b] * mask[i].At(a, b)
			}
		}
		intx[i] = sum
	}

	// Prediction and reconstruction loss.
	c.pred = make([]float64, bs)
	sqErr := 0.0
	for i := 0; i < bs; i++ {
		p := c.biasSample[i] + slope[i]
		if m.intxTerm {
			p += intx[i]
		}
		c.pred[i] = p
		diff := p - y[i]
		sqErr += diff * diff
	}
	mse := sqErr / float64(bs)
	rmse := math.Sqrt(mse)

	// KL of each posterior group against the unit Gaussian. The
	// feature-level groups see their learned prior only through the
	// broadcast-add above; the priors themselves are anchored here.
	reg0 := gaussianKL(m.biasMu.Data, m.biasLv.Data)
	reg1 := gaussianKL(m.slopeMu.Data, m.slopeLv.Data)
	reg2 := gaussianKL(m.latentMu.Data, m.latentLv.Data)
	reg3 := gaussianKL(m.priorLatentMu.Data, m.priorLatentLv.Data)
	reg4 := gaussianKL(m.priorSlopeMu.Data, m.priorSlopeLv.Data)
	regt := reg0*m.lambda0 + reg1*m.lambda1 + reg2*m.lambda2 + (reg3+reg4)*m.lambda0

	loss := mse + regt*c.frac
	m.cache = c

	metrics := Metrics{
		Loss: loss,
		RMSE: rmse,
		Reg0: reg0,
		Reg1: reg1,
		Reg2: reg2,
		Regt: regt,
		Bias: m.biasMu.Data[0],
	}
	if m.reporter != nil {
		m.reporter.Report(metrics)
	}
	return metrics, nil
}

// sampleGaussian draws from N(mu, exp(lv)) via the reparameterization
// trick. The log-variance is clamped to keep exp finite.
func (m *VFM) sampleGaussian(mu, lv float64) float64 {
	return mu + math.Exp(0.5*clampLV(lv))*m.rng.NormFloat64()
}

func clampLV(lv float64) float64 {
	if lv < lvClampMin {
		return lvClampMin
	}
	if lv > lvClampMax {
		return lvClampMax
	}
	return lv
}

// gaussianKL is the closed-form KL divergence of independent Gaussians
// with mean mu and log-variance lv against the standard normal:
// 0.5 * sum(exp(lv) + mu^2 - 1 - lv). Zero iff mu=0 and lv=0
// elementwise, strictly positive otherwise.
func gaussianKL(mu, lv []float64) float64 {
	kl := 0.0
	for i := range mu {
		kl += math.Exp(lv[i]) + mu[i]*mu[i] - 1 - lv[i]
	}
	return 0.5 * kl
}

package vfm

import (
	"errors"
	"math"

	"github.com/n0madic/go-variational-fm/param"
)

// Backward accumulates the analytic gradients of the loss returned by
// the most recent Forward into every parameter group's Grad buffer.
// Gradients flow through the reparameterized samples pathwise: with
// s = mu + exp(0.5*lv)*z, ds/dmu = 1 and ds/dlv = 0.5*(s - mu).
// Gradients accumulate across calls; use ZeroGrad between optimizer
// steps.
func (m *VFM) Backward() error {
	c := m.cache
	if c == nil {
		return errors.New("vfm: Backward called before Forward")
	}

	sums := make([]float64, m.nDim)
	for i := 0; i < c.bs; i++ {
		// d(MSE)/d(pred_i)
		g := 2 * (c.pred[i] - c.y[i]) / float64(c.bs)

		// Bias path.
		m.biasMu.Grad[0] += g
		m.biasLv.Grad[0] += g * 0.5 * (c.biasSample[i] - m.biasMu.Data[0])

		// Slope path: pred depends on coef[i][j] through coef*val.
		for j := 0; j < c.nf; j++ {
			f := c.loc[i][j]
			gc := g * c.val[i][j]
			glv := gc * 0.5 * (c.coef[i][j] - c.coefMu[i][j])
			m.slopeMu.AddGrad(f, 0, gc)
			m.slopeLv.AddGrad(f, 0, glv)
			m.priorSlopeMu.Grad[0] += gc
			m.priorSlopeLv.Grad[0] += glv
		}

		// Interaction path. For slot a,
		// d(intx)/d(v_a[d]) = 2*x_a*(sum_b v_b[d]*x_b - v_a[d]*x_a),
		// the factor 2 coming from the ordered-pair double sum.
		if m.intxTerm {
			vi := c.vi[i]
			viMu := c.viMu[i]
			for d := range sums {
				sums[d] = 0
			}
			for b := 0; b < c.nf; b++ {
				xb := c.val[i][b]
				for d := 0; d < m.nDim; d++ {
					sums[d] += vi[b*m.nDim+d] * xb
				}
			}
			for a := 0; a < c.nf; a++ {
				f := c.loc[i][a]
				xa := c.val[i][a]
				for d := 0; d < m.nDim; d++ {
					s := vi[a*m.nDim+d]
					gv := g * 2 * xa * (sums[d] - s*xa)
					glv := gv * 0.5 * (s - viMu[a*m.nDim+d])
					m.latentMu.AddGrad(f, d, gv)
					m.latentLv.AddGrad(f, d, glv)
					m.priorLatentMu.Grad[d] += gv
					m.priorLatentLv.Grad[d] += glv
				}
			}
		}
	}

	// KL regularization path, scaled by lambda * batch/totalNobs.
	// d(KL)/dmu = mu, d(KL)/dlv = 0.5*(exp(lv) - 1).
	addKLGrad(m.biasMu, m.biasLv, m.lambda0*c.frac)
	addKLGrad(m.slopeMu, m.slopeLv, m.lambda1*c.frac)
	addKLGrad(m.latentMu, m.latentLv, m.lambda2*c.frac)
	addKLGrad(m.priorLatentMu, m.priorLatentLv, m.lambda0*c.frac)
	addKLGrad(m.priorSlopeMu, m.priorSlopeLv, m.lambda0*c.frac)

	return nil
}

func addKLGrad(mu, lv *param.Param, weight float64) {
	for i := range mu.Data {
		mu.Grad[i] += weight * mu.Data[i]
		lv.Grad[i] += weight * 0.5 * (math.Exp(lv.Data[i]) - 1)
	}
}

package fm

import "errors"

// Backward accumulates the analytic gradients of the loss returned by
// the most recent Forward into every parameter group's Grad buffer.
// Gradients accumulate across calls; use ZeroGrad between optimizer
// steps.
func (m *FM) Backward() error {
	c := m.cache
	if c == nil {
		return errors.New("fm: Backward called before Forward")
	}

	sums := make([]float64, m.nDim)
	for i := 0; i < c.bs; i++ {
		g := 2 * (c.pred[i] - c.y[i]) / float64(c.bs)

		m.bias.Grad[0] += g
		for j := 0; j < c.nf; j++ {
			m.slope.AddGrad(c.loc[i][j], 0, g*c.val[i][j])
		}

		// d(intx)/d(v_a[d]) = 2*x_a*(sum_b v_b[d]*x_b - v_a[d]*x_a).
		if m.intxTerm {
			for d := range sums {
				sums[d] = 0
			}
			for j := 0; j < c.nf; j++ {
				f := c.loc[i][j]
				x := c.val[i][j]
				for d := 0; d < m.nDim; d++ {
					sums[d] += m.latent.At(f, d) * x
				}
			}
			for j := 0; j < c.nf; j++ {
				f := c.loc[i][j]
				x := c.val[i][j]
				for d := 0; d < m.nDim; d++ {
					v := m.latent.At(f, d)
					m.latent.AddGrad(f, d, g*2*x*(sums[d]-v*x))
				}
			}
		}
	}

	// L2 regularization path: d(lambda*|w|^2*frac)/dw = 2*lambda*frac*w.
	w := 2 * m.lambda * c.frac
	for i := range m.slope.Data {
		m.slope.Grad[i] += w * m.slope.Data[i]
	}
	for i := range m.latent.Data {
		m.latent.Grad[i] += w * m.latent.Data[i]
	}

	return nil
}

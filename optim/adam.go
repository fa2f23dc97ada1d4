package optim

import (
	"math"

	"github.com/n0madic/go-variational-fm/param"
)

// Adam implements the Adam optimizer with bias-corrected moment
// estimates and optional global-norm gradient clipping. Weight decay
// is intentionally absent: regularization lives in the model loss.
type Adam struct {
	Params      []*param.Param
	LR          float64
	Beta1       float64 // first moment decay (default 0.9)
	Beta2       float64 // second moment decay (default 0.999)
	Eps         float64 // numerical stability (default 1e-8)
	MaxGradNorm float64 // global-norm clipping (0 = disabled)

	m    [][]float64 // first moment
	v    [][]float64 // second moment
	step int
}

// NewAdam creates an Adam optimizer with standard defaults.
func NewAdam(params []*param.Param, lr float64) *Adam {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, p.NumElements())
		v[i] = make([]float64, p.NumElements())
	}
	return &Adam{
		Params: params,
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		m:      m,
		v:      v,
	}
}

// Step performs one optimization step. Gradients must be accumulated
// on the parameters before calling.
func (o *Adam) Step() {
	o.step++

	if o.MaxGradNorm > 0 {
		o.clipGradNorm()
	}

	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for i, p := range o.Params {
		m := o.m[i]
		v := o.v[i]
		for j := range p.Data {
			g := p.Grad[j]
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= o.LR * mHat / (math.Sqrt(vHat) + o.Eps)
		}
	}
}

// ZeroGrad clears all gradients.
func (o *Adam) ZeroGrad() {
	for _, p := range o.Params {
		p.ZeroGrad()
	}
}

// clipGradNorm rescales gradients so their global L2 norm does not
// exceed MaxGradNorm.
func (o *Adam) clipGradNorm() {
	total := 0.0
	for _, p := range o.Params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	total = math.Sqrt(total)
	if total <= o.MaxGradNorm {
		return
	}
	scale := o.MaxGradNorm / total
	for _, p := range o.Params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
}

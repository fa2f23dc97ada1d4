// Package optim provides gradient-descent optimizers over the
// parameter groups exposed by the models in this repository. The model
// accumulates gradients in Backward; the optimizer mutates parameter
// data in Step between forward/backward passes.
package optim

import "github.com/n0madic/go-variational-fm/param"

// SGD implements plain stochastic gradient descent.
type SGD struct {
	Params []*param.Param
	LR     float64
}

// NewSGD creates an SGD optimizer over the given parameter groups.
func NewSGD(params []*param.Param, lr float64) *SGD {
	return &SGD{Params: params, LR: lr}
}

// Step applies one descent update: p -= lr * grad.
func (o *SGD) Step() {
	for _, p := range o.Params {
		for i := range p.Data {
			p.Data[i] -= o.LR * p.Grad[i]
		}
	}
}

// ZeroGrad clears all gradients.
func (o *SGD) ZeroGrad() {
	for _, p := range o.Params {
		p.ZeroGrad()
	}
}

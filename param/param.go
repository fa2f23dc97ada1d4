// Package param provides learnable parameter tensors with gradient
// accumulators, shared by the models in this repository and consumed by
// the optimizers in package optim.
package param

import (
	"fmt"
	"math/rand"
)

// Param is a dense row-major parameter matrix with an accumulated
// gradient of the same shape. Vectors and scalars are represented as
// single-column matrices.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float64
	Grad []float64
}

// New allocates a zero-initialized parameter of the given shape.
func New(name string, rows, cols int) *Param {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("param: invalid shape %dx%d for %q", rows, cols, name))
	}
	return &Param{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Grad: make([]float64, rows*cols),
	}
}

// FillNormal overwrites the data with Gaussian samples scaled and
// shifted elementwise: data[i] = randn*scale + offset.
func (p *Param) FillNormal(rng *rand.Rand, scale, offset float64) {
	for i := range p.Data {
		p.Data[i] = rng.NormFloat64()*scale + offset
	}
}

// FillConst overwrites every element with v.
func (p *Param) FillConst(v float64) {
	for i := range p.Data {
		p.Data[i] = v
	}
}

// At returns the element at (i, j).
func (p *Param) At(i, j int) float64 {
	return p.Data[i*p.Cols+j]
}

// Set assigns the element at (i, j).
func (p *Param) Set(i, j int, v float64) {
	p.Data[i*p.Cols+j] = v
}

// AddGrad accumulates g into the gradient at (i, j).
func (p *Param) AddGrad(i, j int, g float64) {
	p.Grad[i*p.Cols+j] += g
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// NumElements returns the number of scalar elements.
func (p *Param) NumElements() int {
	return len(p.Data)
}

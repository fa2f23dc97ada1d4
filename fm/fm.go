// Package fm implements a point-estimate factorization machine over
// sparse categorical feature vectors: the non-Bayesian companion to
// package vfm. It shares the input contract and the ordered-pair
// interaction convention of the variational model, so predictions from
// the two models are directly comparable.
package fm

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/n0madic/go-variational-fm/param"
)

// FM holds the learnable parameters of a factorization machine.
type FM struct {
	nFeatures int
	nDim      int
	lambda    float64 // L2 weight on slopes and latent vectors
	intxTerm  bool
	totalNobs float64

	bias   *param.Param // (1, 1)
	slope  *param.Param // (nFeatures, 1)
	latent *param.Param // (nFeatures, nDim)

	rng      *rand.Rand
	reporter Reporter

	cache *forwardCache
}

type forwardCache struct {
	bs, nf int
	frac   float64
	val    [][]float64
	loc    [][]int
	pred   []float64
	y      []float64
}

// Option configures an FM.
type Option func(*FM)

// WithNDim sets the latent interaction dimensionality (default 8).
func WithNDim(nDim int) Option {
	return func(m *FM) {
		m.nDim = nDim
	}
}

// WithLambda sets the L2 regularization weight (default 5e-3).
func WithLambda(lambda float64) Option {
	return func(m *FM) {
		m.lambda = lambda
	}
}

// WithInteractionTerm enables or disables the pairwise interaction
// contribution; disabled, the model is plain linear regression.
func WithInteractionTerm(enabled bool) Option {
	return func(m *FM) {
		m.intxTerm = enabled
	}
}

// WithTotalNobs sets the total training-set size used to scale the
// per-batch regularization (default 1).
func WithTotalNobs(n float64) Option {
	return func(m *FM) {
		m.totalNobs = n
	}
}

// WithRandomSeed sets the random seed for reproducible initialization.
// A zero seed selects a time-based seed.
func WithRandomSeed(seed int64) Option {
	return func(m *FM) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithReporter sets the metrics sink fed by every Forward call.
func WithReporter(r Reporter) Option {
	return func(m *FM) {
		m.reporter = r
	}
}

// New creates an FM over a vocabulary of nFeatures sparse feature ids,
// with Xavier-style initialization of the slope and latent weights.
func New(nFeatures int, options ...Option) (*FM, error) {
	m := &FM{
		nFeatures: nFeatures,
		nDim:      8,
		lambda:    5e-3,
		intxTerm:  true,
		totalNobs: 1,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range options {
		opt(m)
	}

	if nFeatures <= 0 {
		return nil, fmt.Errorf("fm: number of features must be positive, got %d", nFeatures)
	}
	if m.nDim <= 0 {
		return nil, fmt.Errorf("fm: latent dimension must be positive, got %d", m.nDim)
	}
	if m.lambda < 0 {
		return nil, fmt.Errorf("fm: regularization weight must be non-negative, got %g", m.lambda)
	}
	if m.totalNobs <= 0 {
		return nil, fmt.Errorf("fm: total observation count must be positive, got %g", m.totalNobs)
	}

	m.bias = param.New("bias", 1, 1)
	m.slope = param.New("slope", nFeatures, 1)
	m.latent = param.New("latent", nFeatures, m.nDim)
	m.slope.FillNormal(m.rng, 1/math.Sqrt(float64(nFeatures)), 0)
	m.latent.FillNormal(m.rng, 1/math.Sqrt(float64(nFeatures*m.nDim)), 0)

	return m, nil
}

// Params returns the learnable parameter groups in a stable order.
func (m *FM) Params() []*param.Param {
	return []*param.Param{m.bias, m.slope, m.latent}
}

// ZeroGrad clears the accumulated gradients of every parameter group.
func (m *FM) ZeroGrad() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// Forward runs the model on one mini-batch of sparse rows and returns
// the loss (MSE plus scaled L2 regularization) with its metrics
// record. The interaction term uses the linear-cost identity
// |sum(v*x)|^2 - sum(|v|^2*x^2), which equals the ordered-pair double
// sum used by the variational model.
func (m *FM) Forward(val [][]float64, loc [][]int, y []float64) (Metrics, error) {
	bs := len(val)
	if bs == 0 {
		return Metrics{}, fmt.Errorf("fm: empty batch")
	}
	nf := len(val[0])
	if nf == 0 {
		return Metrics{}, fmt.Errorf("fm: rows have no feature slots")
	}
	if len(loc) != bs || len(y) != bs {
		return Metrics{}, fmt.Errorf("fm: batch size mismatch: val %d, loc %d, y %d", bs, len(loc), len(y))
	}
	for i := 0; i < bs; i++ {
		if len(val[i]) != nf || len(loc[i]) != nf {
			return Metrics{}, fmt.Errorf("fm: row %d has %d values and %d indices, want %d slots",
				i, len(val[i]), len(loc[i]), nf)
		}
		for j, f := range loc[i] {
			if f < 0 || f >= m.nFeatures {
				return Metrics{}, fmt.Errorf("fm: feature id %d at row %d slot %d out of range [0, %d)",
					f, i, j, m.nFeatures)
			}
		}
	}

	c := &forwardCache{
		bs:   bs,
		nf:   nf,
		frac: float64(bs) / m.totalNobs,
		val:  val,
		loc:  loc,
		y:    y,
		pred: make([]float64, bs),
	}

	sums := make([]float64, m.nDim)
	sqErr := 0.0
	for i := 0; i < bs; i++ {
		p := m.bias.Data[0]
		for j := 0; j < nf; j++ {
			p += m.slope.At(loc[i][j], 0) * val[i][j]
		}
		if m.intxTerm {
			for d := range sums {
				sums[d] = 0
			}
			squareSum := 0.0
			for j := 0; j < nf; j++ {
				f := loc[i][j]
				x := val[i][j]
				for d := 0; d < m.nDim; d++ {
					v := m.latent.At(f, d)
					sums[d] += v * x
					squareSum += v * v * x * x
				}
			}
			p += floats.Dot(sums, sums) - squareSum
		}
		c.pred[i] = p
		diff := p - y[i]
		sqErr += diff * diff
	}
	mse := sqErr / float64(bs)
	rmse := math.Sqrt(mse)

	reg := floats.Dot(m.slope.Data, m.slope.Data) + floats.Dot(m.latent.Data, m.latent.Data)
	loss := mse + m.lambda*reg*c.frac
	m.cache = c

	metrics := Metrics{
		Loss: loss,
		RMSE: rmse,
		Reg:  reg,
		Bias: m.bias.Data[0],
	}
	if m.reporter != nil {
		m.reporter.Report(metrics)
	}
	return metrics, nil
}

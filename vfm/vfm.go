// Package vfm implements a Variational Factorization Machine: a
// Bayesian regression model over sparse categorical feature vectors
// that predicts a continuous target as a global bias plus linear
// feature effects plus pairwise feature-interaction effects, with an
// independent Gaussian posterior over every parameter.
//
// Predictions are drawn through the reparameterization trick
// (sample = mu + exp(0.5*lv)*noise), so the returned loss is an
// ELBO-style objective: mean squared error plus KL-divergence
// regularization scaled by the mini-batch fraction of the dataset.
// Gradients for all parameter groups are computed analytically by
// Backward; an optimizer from package optim updates the parameters
// between calls.
//
// A model instance is not safe for concurrent use: Forward and
// Backward share the mask cache and the activation cache.
package vfm

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-variational-fm/param"
)

// DefaultLVFloor is the log-variance offset applied to rows flagged as
// test examples. Scaled by the row's isTest value, it drives the
// sampling variance to effectively zero so the sampled parameters
// collapse to their posterior means.
const DefaultLVFloor = -100.0

// VFM holds the variational posteriors of a factorization machine.
type VFM struct {
	nFeatures int
	nDim      int
	lambda0   float64 // bias and prior KL weight
	lambda1   float64 // slope KL weight
	lambda2   float64 // latent KL weight
	intxTerm  bool
	totalNobs float64
	lvFloor   float64

	initBiasMu float64
	initBiasLv float64

	// Variational posteriors: mean and log-variance per group.
	biasMu        *param.Param // (1, 1)
	biasLv        *param.Param // (1, 1)
	slopeMu       *param.Param // (nFeatures, 1)
	slopeLv       *param.Param // (nFeatures, 1)
	priorSlopeMu  *param.Param // (1, 1) broadcast over features
	priorSlopeLv  *param.Param // (1, 1)
	latentMu      *param.Param // (nFeatures, nDim)
	latentLv      *param.Param // (nFeatures, nDim)
	priorLatentMu *param.Param // (1, nDim) broadcast over features
	priorLatentLv *param.Param // (1, nDim)

	rng      *rand.Rand
	reporter Reporter

	// Diagonal-exclusion mask cache, keyed on batch size.
	maskBS   int
	maskNF   int
	maskData []float64
	mask     []*mat.Dense

	cache *forwardCache
}

// Option configures a VFM.
type Option func(*VFM)

// WithNDim sets the latent interaction dimensionality (default 8).
func WithNDim(nDim int) Option {
	return func(m *VFM) {
		m.nDim = nDim
	}
}

// WithLambda0 sets the KL weight for the bias and both learned priors.
func WithLambda0(lambda float64) Option {
	return func(m *VFM) {
		m.lambda0 = lambda
	}
}

// WithLambda1 sets the KL weight for the per-feature slopes.
func WithLambda1(lambda float64) Option {
	return func(m *VFM) {
		m.lambda1 = lambda
	}
}

// WithLambda2 sets the KL weight for the per-feature latent vectors.
func WithLambda2(lambda float64) Option {
	return func(m *VFM) {
		m.lambda2 = lambda
	}
}

// WithInitBias sets the initial bias mean and log-variance.
func WithInitBias(mu, lv float64) Option {
	return func(m *VFM) {
		m.initBiasMu = mu
		m.initBiasLv = lv
	}
}

// WithInteractionTerm enables or disables the pairwise interaction
// contribution to the prediction. Disabled, the model degenerates to
// Bayesian linear regression.
func WithInteractionTerm(enabled bool) Option {
	return func(m *VFM) {
		m.intxTerm = enabled
	}
}

// WithTotalNobs sets the total training-set size used to scale the
// per-batch regularization (default 1).
func WithTotalNobs(n float64) Option {
	return func(m *VFM) {
		m.totalNobs = n
	}
}

// WithLVFloor overrides the test-row log-variance floor.
func WithLVFloor(floor float64) Option {
	return func(m *VFM) {
		m.lvFloor = floor
	}
}

// WithRandomSeed sets the random seed for reproducibility. A zero seed
// selects a time-based seed.
func WithRandomSeed(seed int64) Option {
	return func(m *VFM) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithReporter sets the metrics sink fed by every Forward call.
func WithReporter(r Reporter) Option {
	return func(m *VFM) {
		m.reporter = r
	}
}

// New creates a VFM over a vocabulary of nFeatures sparse feature ids.
func New(nFeatures int, options ...Option) (*VFM, error) {
	m := &VFM{
		nFeatures: nFeatures,
		nDim:      8,
		lambda0:   5e-3,
		lambda1:   5e-3,
		lambda2:   5e-3,
		intxTerm:  true,
		totalNobs: 1,
		lvFloor:   DefaultLVFloor,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range options {
		opt(m)
	}

	if nFeatures <= 0 {
		return nil, fmt.Errorf("vfm: number of features must be positive, got %d", nFeatures)
	}
	if m.nDim <= 0 {
		return nil, fmt.Errorf("vfm: latent dimension must be positive, got %d", m.nDim)
	}
	if m.lambda0 < 0 || m.lambda1 < 0 || m.lambda2 < 0 {
		return nil, fmt.Errorf("vfm: regularization weights must be non-negative, got %g, %g, %g",
			m.lambda0, m.lambda1, m.lambda2)
	}
	if m.totalNobs <= 0 {
		return nil, fmt.Errorf("vfm: total observation count must be positive, got %g", m.totalNobs)
	}

	m.biasMu = param.New("bias_mu", 1, 1)
	m.biasLv = param.New("bias_lv", 1, 1)
	m.slopeMu = param.New("slope_mu", nFeatures, 1)
	m.slopeLv = param.New("slope_lv", nFeatures, 1)
	m.priorSlopeMu = param.New("prior_slope_mu", 1, 1)
	m.priorSlopeLv = param.New("prior_slope_lv", 1, 1)
	m.latentMu = param.New("latent_mu", nFeatures, m.nDim)
	m.latentLv = param.New("latent_lv", nFeatures, m.nDim)
	m.priorLatentMu = param.New("prior_latent_mu", 1, m.nDim)
	m.priorLatentLv = param.New("prior_latent_lv", 1, m.nDim)

	m.initialize()
	return m, nil
}

// initialize applies Xavier-style random initialization: means scaled
// by 1/sqrt(fan-in), log-variances offset by -2 so the initial
// posterior variance is small. The learned priors start at zero.
func (m *VFM) initialize() {
	latentScale := 1.0 / sqrtF(m.nFeatures*m.nDim)
	slopeScale := 1.0 / sqrtF(m.nFeatures)

	m.latentMu.FillNormal(m.rng, latentScale, 0)
	m.latentLv.FillNormal(m.rng, latentScale, -2)
	m.slopeMu.FillNormal(m.rng, slopeScale, 0)
	m.slopeLv.FillNormal(m.rng, slopeScale, -2)
	m.biasMu.FillConst(m.initBiasMu)
	m.biasLv.FillConst(m.initBiasLv)
}

// NFeatures returns the sparse vocabulary size.
func (m *VFM) NFeatures() int {
	return m.nFeatures
}

// NDim returns the latent interaction dimensionality.
func (m *VFM) NDim() int {
	return m.nDim
}

// Params returns the ten learnable parameter groups in a stable order,
// for consumption by an optimizer.
func (m *VFM) Params() []*param.Param {
	return []*param.Param{
		m.biasMu, m.biasLv,
		m.slopeMu, m.slopeLv,
		m.priorSlopeMu, m.priorSlopeLv,
		m.latentMu, m.latentLv,
		m.priorLatentMu, m.priorLatentLv,
	}
}

// ZeroGrad clears the accumulated gradients of every parameter group.
func (m *VFM) ZeroGrad() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// Mask returns the diagonal-exclusion mask for a batch: bs slices of
// shape nf x nf, each 1 everywhere except 0 on the diagonal, all
// sharing one backing array. The mask is rebuilt only when the batch
// size changes; the active-slot width nf is expected to stay fixed for
// the life of a model, and Forward rejects a width change at an
// unchanged batch size as a shape mismatch.
func (m *VFM) Mask(bs, nf int) []*mat.Dense {
	if m.mask == nil || m.maskBS != bs {
		data := make([]float64, nf*nf)
		for a := 0; a < nf; a++ {
			for b := 0; b < nf; b++ {
				if a != b {
					data[a*nf+b] = 1
				}
			}
		}
		slices := make([]*mat.Dense, bs)
		for i := range slices {
			slices[i] = mat.NewDense(nf, nf, data)
		}
		m.maskData = data
		m.mask = slices
		m.maskBS = bs
		m.maskNF = nf
	}
	return m.mask
}

func sqrtF(n int) float64 {
	return math.Sqrt(float64(n))
}

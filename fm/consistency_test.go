package fm_test

import (
	"math"
	"testing"

	"github.com/n0madic/go-variational-fm/fm"
	"github.com/n0madic/go-variational-fm/param"
	"github.com/n0madic/go-variational-fm/vfm"
)

func paramByName(params []*param.Param, name string) *param.Param {
	for _, p := range params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// A VFM evaluated at its posterior means with zeroed priors is a plain
// factorization machine; both models must predict identically.
func TestDeterministicVFMMatchesFM(t *testing.T) {
	const (
		nFeatures = 6
		nDim      = 3
		tol       = 1e-9
	)

	pointModel, err := fm.New(nFeatures, fm.WithNDim(nDim), fm.WithLambda(0), fm.WithRandomSeed(42))
	if err != nil {
		t.Fatalf("Failed to create FM: %v", err)
	}
	varModel, err := vfm.New(nFeatures,
		vfm.WithNDim(nDim),
		vfm.WithLambda0(0), vfm.WithLambda1(0), vfm.WithLambda2(0),
		vfm.WithRandomSeed(43),
	)
	if err != nil {
		t.Fatalf("Failed to create VFM: %v", err)
	}

	// Copy the point estimates into the posterior means. The learned
	// priors are zero-initialized, so they contribute nothing.
	copy(paramByName(varModel.Params(), "bias_mu").Data, paramByName(pointModel.Params(), "bias").Data)
	copy(paramByName(varModel.Params(), "slope_mu").Data, paramByName(pointModel.Params(), "slope").Data)
	copy(paramByName(varModel.Params(), "latent_mu").Data, paramByName(pointModel.Params(), "latent").Data)

	val := [][]float64{
		{1.0, 0.5},
		{-0.5, 2.0},
		{0.3, -1.2},
	}
	loc := [][]int{
		{0, 3},
		{1, 4},
		{2, 5},
	}
	y := []float64{0.7, -0.2, 1.5}
	isTest := []float64{1, 1, 1}

	a, err := pointModel.Forward(val, loc, y)
	if err != nil {
		t.Fatalf("FM Forward failed: %v", err)
	}
	b, err := varModel.Forward(val, loc, y, isTest)
	if err != nil {
		t.Fatalf("VFM Forward failed: %v", err)
	}

	if math.Abs(a.RMSE-b.RMSE) > tol {
		t.Errorf("prediction mismatch between models: FM rmse %g, VFM rmse %g", a.RMSE, b.RMSE)
	}
	if math.Abs(a.Loss-b.Loss) > tol {
		t.Errorf("loss mismatch with regularization off: FM %g, VFM %g", a.Loss, b.Loss)
	}
}

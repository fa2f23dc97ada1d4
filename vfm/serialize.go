package vfm

import (
	"encoding/gob"
	"fmt"
	"io"
)

// State is the serializable snapshot of a VFM.
type State struct {
	Version   int
	NFeatures int
	NDim      int
	Lambda0   float64
	Lambda1   float64
	Lambda2   float64
	IntxTerm  bool
	TotalNobs float64
	LVFloor   float64

	BiasMu        []float64
	BiasLv        []float64
	SlopeMu       []float64
	SlopeLv       []float64
	PriorSlopeMu  []float64
	PriorSlopeLv  []float64
	LatentMu      []float64
	LatentLv      []float64
	PriorLatentMu []float64
	PriorLatentLv []float64
}

const stateVersion = 1

// Save serializes the model state to gob format. Gradients and the
// mask cache are not serialized; both are recomputed on demand.
func (m *VFM) Save(w io.Writer) error {
	state := State{
		Version:   stateVersion,
		NFeatures: m.nFeatures,
		NDim:      m.nDim,
		Lambda0:   m.lambda0,
		Lambda1:   m.lambda1,
		Lambda2:   m.lambda2,
		IntxTerm:  m.intxTerm,
		TotalNobs: m.totalNobs,
		LVFloor:   m.lvFloor,

		BiasMu:        cloneFloats(m.biasMu.Data),
		BiasLv:        cloneFloats(m.biasLv.Data),
		SlopeMu:       cloneFloats(m.slopeMu.Data),
		SlopeLv:       cloneFloats(m.slopeLv.Data),
		PriorSlopeMu:  cloneFloats(m.priorSlopeMu.Data),
		PriorSlopeLv:  cloneFloats(m.priorSlopeLv.Data),
		LatentMu:      cloneFloats(m.latentMu.Data),
		LatentLv:      cloneFloats(m.latentLv.Data),
		PriorLatentMu: cloneFloats(m.priorLatentMu.Data),
		PriorLatentLv: cloneFloats(m.priorLatentLv.Data),
	}
	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes a model saved by Save. The seed follows the
// WithRandomSeed convention: zero selects a time-based seed.
func Load(r io.Reader, seed int64) (*VFM, error) {
	var state State
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("vfm: unsupported state version %d", state.Version)
	}

	m, err := New(state.NFeatures,
		WithNDim(state.NDim),
		WithLambda0(state.Lambda0),
		WithLambda1(state.Lambda1),
		WithLambda2(state.Lambda2),
		WithInteractionTerm(state.IntxTerm),
		WithTotalNobs(state.TotalNobs),
		WithLVFloor(state.LVFloor),
		WithRandomSeed(seed),
	)
	if err != nil {
		return nil, err
	}

	restore := []struct {
		dst  []float64
		src  []float64
		name string
	}{
		{m.biasMu.Data, state.BiasMu, "bias_mu"},
		{m.biasLv.Data, state.BiasLv, "bias_lv"},
		{m.slopeMu.Data, state.SlopeMu, "slope_mu"},
		{m.slopeLv.Data, state.SlopeLv, "slope_lv"},
		{m.priorSlopeMu.Data, state.PriorSlopeMu, "prior_slope_mu"},
		{m.priorSlopeLv.Data, state.PriorSlopeLv, "prior_slope_lv"},
		{m.latentMu.Data, state.LatentMu, "latent_mu"},
		{m.latentLv.Data, state.LatentLv, "latent_lv"},
		{m.priorLatentMu.Data, state.PriorLatentMu, "prior_latent_mu"},
		{m.priorLatentLv.Data, state.PriorLatentLv, "prior_latent_lv"},
	}
	for _, g := range restore {
		if len(g.src) != len(g.dst) {
			return nil, fmt.Errorf("vfm: invalid %s length %d, want %d", g.name, len(g.src), len(g.dst))
		}
		copy(g.dst, g.src)
	}
	return m, nil
}

func cloneFloats(src []float64) []float64 {
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}

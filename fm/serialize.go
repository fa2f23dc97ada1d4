package fm

import (
	"encoding/gob"
	"fmt"
	"io"
)

// State is the serializable snapshot of an FM.
type State struct {
	Version   int
	NFeatures int
	NDim      int
	Lambda    float64
	IntxTerm  bool
	TotalNobs float64

	Bias   []float64
	Slope  []float64
	Latent []float64
}

const stateVersion = 1

// Save serializes the model state to gob format.
func (m *FM) Save(w io.Writer) error {
	state := State{
		Version:   stateVersion,
		NFeatures: m.nFeatures,
		NDim:      m.nDim,
		Lambda:    m.lambda,
		IntxTerm:  m.intxTerm,
		TotalNobs: m.totalNobs,
		Bias:      cloneFloats(m.bias.Data),
		Slope:     cloneFloats(m.slope.Data),
		Latent:    cloneFloats(m.latent.Data),
	}
	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes a model saved by Save.
func Load(r io.Reader, seed int64) (*FM, error) {
	var state State
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("fm: unsupported state version %d", state.Version)
	}

	m, err := New(state.NFeatures,
		WithNDim(state.NDim),
		WithLambda(state.Lambda),
		WithInteractionTerm(state.IntxTerm),
		WithTotalNobs(state.TotalNobs),
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
		{m.bias.Data, state.Bias, "bias"},
		{m.slope.Data, state.Slope, "slope"},
		{m.latent.Data, state.Latent, "latent"},
	}
	for _, g := range restore {
		if len(g.src) != len(g.dst) {
			return nil, fmt.Errorf("fm: invalid %s length %d, want %d", g.name, len(g.src), len(g.dst))
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

package vfm

import (
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// Metrics is the per-batch record produced by Forward. Loss is the
// scalar training objective; RMSE and the regularization components
// are reporting quantities.
type Metrics struct {
	Loss float64 `json:"loss"`
	RMSE float64 `json:"rmse"`
	Reg0 float64 `json:"reg0"` // bias KL
	Reg1 float64 `json:"reg1"` // slope KL
	Reg2 float64 `json:"reg2"` // latent KL
	Regt float64 `json:"regt"` // weighted sum of all KL terms
	Bias float64 `json:"bias"` // current bias posterior mean
}

// Reporter consumes the metrics record emitted by every Forward call.
type Reporter interface {
	Report(Metrics)
}

// JSONLinesReporter writes one JSON object per record to an underlying
// writer. Safe for use from a single training loop; encoding errors
// are retained and exposed through Err.
type JSONLinesReporter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONLinesReporter creates a reporter encoding to w.
func NewJSONLinesReporter(w io.Writer) *JSONLinesReporter {
	return &JSONLinesReporter{enc: json.NewEncoder(w)}
}

// Report encodes the record as one JSON line.
func (r *JSONLinesReporter) Report(m Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(m); err != nil && r.err == nil {
		r.err = err
	}
}

// Err returns the first encoding error encountered, if any.
func (r *JSONLinesReporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

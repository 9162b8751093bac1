// Package inference turns classifier probabilities into the list of
// candidates predicted to be true instructions.
package inference

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"identify/internal/graph"
	"identify/internal/logging"
	"identify/internal/model"
)

// DefaultThreshold is the class-1 probability a node must exceed.
const DefaultThreshold = 0.5

// Prediction is the outcome of one classifier call.
type Prediction struct {
	// Indices of nodes classified as true instructions, ascending.
	Indices []int32
	// Probabilities holds the class-1 probability of every node.
	Probabilities []float64
}

// Addresses maps the predicted indices back to candidate addresses. It
// returns nil when g carries no addresses.
func (p *Prediction) Addresses(g *graph.Graph) []uint64 {
	if g.Addrs == nil {
		return nil
	}
	out := make([]uint64, len(p.Indices))
	for i, idx := range p.Indices {
		out[i] = g.Addrs[idx]
	}
	return out
}

// Driver classifies graphs with a fixed weight set.
type Driver struct {
	model     *model.Model
	threshold float64
	logger    *log.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(th float64) Option {
	return func(d *Driver) { d.threshold = th }
}

// WithLogger sets the logger used for per-graph debug output.
func WithLogger(l *log.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver wraps m. The model is never modified.
func NewDriver(m *model.Model, opts ...Option) *Driver {
	d := &Driver{model: m, threshold: DefaultThreshold}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	return d
}

// Load reads a model artifact and wraps it in a Driver.
func Load(path string, opts ...Option) (*Driver, error) {
	m, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	return NewDriver(m, opts...), nil
}

// Model returns the weight set the driver classifies with.
func (d *Driver) Model() *model.Model { return d.model }

// Predict runs the classifier once over g and thresholds the result.
func (d *Driver) Predict(g *graph.Graph) (*Prediction, error) {
	start := time.Now()
	probs, err := d.model.Probabilities(g)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	p := &Prediction{Indices: []int32{}, Probabilities: probs}
	for i, v := range probs {
		if v > d.threshold {
			p.Indices = append(p.Indices, int32(i))
		}
	}
	d.logger.Debug("classified graph",
		"nodes", g.N(),
		"edges", g.E(),
		"predicted", len(p.Indices),
		"elapsed", time.Since(start))
	return p, nil
}

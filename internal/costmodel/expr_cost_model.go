package costmodel

import (
	"fmt"
	"math"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
)

// priorWeights encode a rough analytic model (about 1ns per iteration, vector and
// unroll speedups, penalties for strided access and large tiles) so that an
// untrained model already ranks candidates sensibly.
var priorWeights = Features{
	FeatBias:               -20.7,
	FeatLogTrips:           1.0,
	FeatVectorContiguous:   -1.2,
	FeatVectorStrided:      0.3,
	FeatUnroll:             -0.3,
	FeatStridedFraction:    0.8,
	FeatFootprint:          0.5,
	FeatDepth:              0.1,
	FeatReductionInnermost: 0.2,
}

const (
	defaultPriorVariance = 1.0
	defaultForgetting    = 0.995
	snapshotVersion      = 1
)

// ExprCostModel predicts exp(w·φ(body)) and fits w to log(cost) with recursive
// least squares, starting from priorWeights.
type ExprCostModel struct {
	mu         sync.RWMutex
	w          Features
	p          [NumFeatures][NumFeatures]float64
	forgetting float64
	trained    int
}

// NewExprCostModel returns an untrained model
func NewExprCostModel() *ExprCostModel {
	m := &ExprCostModel{w: priorWeights, forgetting: defaultForgetting}
	for i := range NumFeatures {
		m.p[i][i] = defaultPriorVariance
	}
	return m
}

// Predict implements CostModel
func (m *ExprCostModel) Predict(body ir.Stmt) float64 {
	return m.PredictFeatures(Extract(body))
}

// PredictFeatures predicts from an already extracted feature vector
func (m *ExprCostModel) PredictFeatures(f Features) float64 {
	m.mu.RLock()
	y := dot(m.w, f)
	m.mu.RUnlock()
	return math.Exp(math.Max(-60, math.Min(60, y)))
}

// Update implements CostModel. Samples with a non-positive or non-finite cost are ignored.
func (m *ExprCostModel) Update(samples []Sample) {
	if len(samples) == 0 {
		return
	}
	feats := make([]Features, 0, len(samples))
	targets := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Body == nil || !(s.Cost > 0) || math.IsInf(s.Cost, 0) {
			continue
		}
		feats = append(feats, Extract(s.Body))
		targets = append(targets, math.Log(s.Cost))
	}
	if len(feats) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range feats {
		m.step(feats[i], targets[i])
	}
	m.trained += len(feats)
}

// step applies one recursive least squares update
func (m *ExprCostModel) step(x Features, y float64) {
	var px Features
	for i := range NumFeatures {
		for j := range NumFeatures {
			px[i] += m.p[i][j] * x[j]
		}
	}
	denom := m.forgetting + dot(x, px)
	if denom <= 0 {
		return
	}
	var k Features
	for i := range NumFeatures {
		k[i] = px[i] / denom
	}
	e := y - dot(m.w, x)
	for i := range NumFeatures {
		m.w[i] += k[i] * e
	}
	// P = (P - k (P x)^T) / lambda; P stays symmetric
	for i := range NumFeatures {
		for j := range NumFeatures {
			m.p[i][j] = (m.p[i][j] - k[i]*px[j]) / m.forgetting
		}
	}
}

// Trained implements CostModel
func (m *ExprCostModel) Trained() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// Weights returns a copy of the current weight vector
func (m *ExprCostModel) Weights() Features {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.w
}

type snapshot struct {
	Version    int         `json:"version"`
	Weights    []float64   `json:"weights"`
	Covariance [][]float64 `json:"covariance"`
	Forgetting float64     `json:"forgetting"`
	Trained    int         `json:"trained"`
}

// Snapshot serializes the model parameters
func (m *ExprCostModel) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := snapshot{
		Version:    snapshotVersion,
		Weights:    append([]float64(nil), m.w[:]...),
		Covariance: make([][]float64, NumFeatures),
		Forgetting: m.forgetting,
		Trained:    m.trained,
	}
	for i := range NumFeatures {
		s.Covariance[i] = append([]float64(nil), m.p[i][:]...)
	}
	return json.Marshal(s)
}

// Restore replaces the model parameters with a snapshot
func (m *ExprCostModel) Restore(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode cost model snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported cost model snapshot version %d", s.Version)
	}
	if len(s.Weights) != NumFeatures || len(s.Covariance) != NumFeatures {
		return fmt.Errorf("cost model snapshot has %d features, want %d", len(s.Weights), NumFeatures)
	}
	for _, row := range s.Covariance {
		if len(row) != NumFeatures {
			return fmt.Errorf("cost model snapshot covariance is not %dx%d", NumFeatures, NumFeatures)
		}
	}
	if s.Forgetting <= 0 || s.Forgetting > 1 {
		return fmt.Errorf("cost model snapshot forgetting factor %v out of range", s.Forgetting)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.w[:], s.Weights)
	for i := range NumFeatures {
		copy(m.p[i][:], s.Covariance[i])
	}
	m.forgetting = s.Forgetting
	m.trained = s.Trained
	return nil
}

func dot(a, b Features) float64 {
	s := 0.0
	for i := range NumFeatures {
		s += a[i] * b[i]
	}
	return s
}

// Package metrics records per-round tuning measurements as labelled series and
// aggregates them for reporting.
package metrics

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

// Point is one recorded value
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation summarizes the values of one series
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// Summary aggregates every series recorded by a Collector
type Summary struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration"`
	Aggregations map[string]*Aggregation `json:"aggregations"`
}

// Collector is safe for concurrent use by several tuning sessions
type Collector struct {
	mu sync.RWMutex

	startTime time.Time
	endTime   time.Time

	// metric name -> label key -> points
	series map[string]map[string][]Point
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		series:    make(map[string]map[string][]Point),
	}
}

// Start marks the start of collection
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
}

// Stop marks the end of collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record stores a value at a timestamp
func (c *Collector) Record(name string, value float64, timestamp time.Time, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string][]Point)
	}
	c.series[name][key] = append(c.series[name][key], Point{
		Timestamp: timestamp,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
}

// RecordNow stores a value at the current time
func (c *Collector) RecordNow(name string, value float64, labels map[string]string) {
	c.Record(name, value, time.Now(), labels)
}

// Series returns a copy of the points of one series
func (c *Collector) Series(name string, labels map[string]string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	if len(points) == 0 {
		return nil
	}
	out := make([]Point, len(points))
	for i, p := range points {
		p.Labels = copyLabels(p.Labels)
		out[i] = p
	}
	return out
}

// Aggregate summarizes one series, or all series of name when labels is nil.
// It returns nil when nothing was recorded.
func (c *Collector) Aggregate(name string, labels map[string]string) *Aggregation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var values []float64
	if labels == nil {
		for _, points := range c.series[name] {
			values = appendValues(values, points)
		}
	} else {
		values = appendValues(values, c.series[name][labelKey(labels)])
	}
	return aggregate(values)
}

// Summary aggregates every metric over all label sets
func (c *Collector) Summary() *Summary {
	names := c.Names()

	c.mu.RLock()
	s := &Summary{
		StartTime:    c.startTime,
		EndTime:      c.endTime,
		Aggregations: make(map[string]*Aggregation, len(names)),
	}
	if !c.endTime.IsZero() {
		s.Duration = c.endTime.Sub(c.startTime)
	}
	c.mu.RUnlock()

	for _, name := range names {
		if agg := c.Aggregate(name, nil); agg != nil {
			s.Aggregations[name] = agg
		}
	}
	return s
}

// Names returns the recorded metric names, sorted
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear drops everything recorded so far
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string]map[string][]Point)
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

func appendValues(values []float64, points []Point) []float64 {
	for _, p := range points {
		values = append(values, p.Value)
	}
	return values
}

func aggregate(values []float64) *Aggregation {
	if len(values) == 0 {
		return nil
	}
	return &Aggregation{
		Count: int64(len(values)),
		Sum:   utils.Sum(values),
		Min:   slices.Min(values),
		Max:   slices.Max(values),
		Mean:  utils.Mean(values),
		P50:   utils.Percentile(values, 50),
		P95:   utils.Percentile(values, 95),
	}
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(',')
	}
	return sb.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

package metrics

import "time"

// Metric names recorded by the tuning loop
const (
	MetricRoundSeconds   = "round_seconds"
	MetricMeasureSeconds = "measure_seconds"
	MetricProposed       = "candidates_proposed"
	MetricPruned         = "candidates_pruned"
	MetricMeasured       = "candidates_measured"
	MetricFailed         = "candidates_failed"
	MetricBestCost       = "best_cost_seconds"
)

// Round is what one tuning round reports
type Round struct {
	Task           string
	Proposed       int
	Pruned         int
	Measured       int
	Failed         int
	Duration       time.Duration
	MeasureLatency time.Duration
	// BestCost is the session best after the round; 0 when nothing was measured yet
	BestCost float64
}

// TaskLabels returns the labels identifying a task's series
func TaskLabels(task string) map[string]string {
	return map[string]string{"task": task}
}

// RecordRound records every series of one round. A nil collector is a no-op.
func RecordRound(c *Collector, r Round) {
	if c == nil {
		return
	}
	now := time.Now()
	labels := TaskLabels(r.Task)
	c.Record(MetricRoundSeconds, r.Duration.Seconds(), now, labels)
	c.Record(MetricProposed, float64(r.Proposed), now, labels)
	c.Record(MetricPruned, float64(r.Pruned), now, labels)
	c.Record(MetricMeasured, float64(r.Measured), now, labels)
	c.Record(MetricFailed, float64(r.Failed), now, labels)
	if r.MeasureLatency > 0 {
		c.Record(MetricMeasureSeconds, r.MeasureLatency.Seconds(), now, labels)
	}
	if r.BestCost > 0 {
		c.Record(MetricBestCost, r.BestCost, now, labels)
	}
}

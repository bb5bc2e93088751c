package tuning

import "fmt"

// Termination reasons reported in TuningResult
const (
	ReasonRoundBudget     = "round budget exhausted"
	ReasonSearchExhausted = "search exhausted"
)

// TerminationPolicy decides after each round whether the session stops
type TerminationPolicy interface {
	// ShouldStop inspects the rounds executed so far
	ShouldStop(history []RoundStats) (bool, string)
	// Name returns the name of the policy
	Name() string
}

// RoundBudgetPolicy stops once MaxRounds rounds have run
type RoundBudgetPolicy struct {
	MaxRounds int
}

func (p *RoundBudgetPolicy) Name() string {
	return "round_budget"
}

func (p *RoundBudgetPolicy) ShouldStop(history []RoundStats) (bool, string) {
	if len(history) >= p.MaxRounds {
		return true, ReasonRoundBudget
	}
	return false, ""
}

// EmptyRoundPolicy stops after Limit consecutive empty rounds
type EmptyRoundPolicy struct {
	Limit int
}

func (p *EmptyRoundPolicy) Name() string {
	return "empty_rounds"
}

func (p *EmptyRoundPolicy) ShouldStop(history []RoundStats) (bool, string) {
	if n := ConsecutiveEmptyRounds(history); n >= p.Limit {
		return true, ReasonSearchExhausted
	}
	return false, ""
}

// CombinedPolicy stops as soon as any of its policies does
type CombinedPolicy struct {
	policies []TerminationPolicy
}

// NewCombinedPolicy combines policies; earlier ones take precedence for the reason
func NewCombinedPolicy(policies ...TerminationPolicy) *CombinedPolicy {
	return &CombinedPolicy{policies: policies}
}

func (p *CombinedPolicy) Name() string {
	return "combined"
}

func (p *CombinedPolicy) ShouldStop(history []RoundStats) (bool, string) {
	for _, policy := range p.policies {
		if stop, reason := policy.ShouldStop(history); stop {
			return true, reason
		}
	}
	return false, ""
}

// ConsecutiveEmptyRounds counts the empty rounds at the end of history
func ConsecutiveEmptyRounds(history []RoundStats) int {
	n := 0
	for i := len(history) - 1; i >= 0 && history[i].Empty; i-- {
		n++
	}
	return n
}

func describeStop(reason string, history []RoundStats) string {
	if reason == ReasonSearchExhausted {
		return fmt.Sprintf("%s after %d empty rounds", reason, ConsecutiveEmptyRounds(history))
	}
	return reason
}

package trace

import "time"

// Entry records one outbound request issued while executing a step.
type Entry struct {
	Timestamp  time.Time     `json:"timestamp"`
	RunID      string        `json:"run_id,omitempty"`
	Step       string        `json:"step,omitempty"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	Poll       bool          `json:"poll"`
	Error      string        `json:"error,omitempty"`
}

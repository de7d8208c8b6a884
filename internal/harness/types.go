package harness

import "github.com/roach88/pimsync/internal/engine"

// TraceEvent is one applied Match of one pass.
type TraceEvent struct {
	Pass     int    `json:"pass"`
	Seq      int64  `json:"seq"`
	Match    string `json:"match"`
	Action   string `json:"action"`
	Outcome  string `json:"outcome"`
	Side     string `json:"side,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the entries of every pass in order.
	Trace []TraceEvent `json:"trace"`

	// Summaries holds one summary per pass run.
	Summaries []*engine.Summary `json:"summaries"`

	// PassError is the error that aborted the last pass, if any.
	PassError string `json:"pass_error,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddPass appends a pass summary and its entries to the trace.
func (r *Result) AddPass(s *engine.Summary) {
	pass := len(r.Summaries) + 1
	r.Summaries = append(r.Summaries, s)
	for _, en := range s.Entries {
		r.Trace = append(r.Trace, TraceEvent{
			Pass:     pass,
			Seq:      en.Seq,
			Match:    en.Match,
			Action:   en.Action,
			Outcome:  string(en.Outcome),
			Side:     string(en.Side),
			TargetID: en.TargetID,
			Code:     string(en.Code),
		})
	}
}

// Last returns the summary of the final pass, or nil if none ran.
func (r *Result) Last() *engine.Summary {
	if len(r.Summaries) == 0 {
		return nil
	}
	return r.Summaries[len(r.Summaries)-1]
}

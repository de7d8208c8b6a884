package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pimsync/internal/model"
)

// TraceSnapshot captures the trace and per-pass counters of a scenario.
// It is serialized as canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string           `json:"scenario_name"`
	Trace        []TraceEvent     `json:"trace"`
	Counters     []map[string]int `json:"passes"`
	PassError    string           `json:"pass_error,omitempty"`
}

// NewTraceSnapshot builds the snapshot of a finished scenario.
func NewTraceSnapshot(name string, result *Result) TraceSnapshot {
	snap := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		PassError:    result.PassError,
	}
	for _, s := range result.Summaries {
		snap.Counters = append(snap.Counters, summaryCounters(s))
	}
	return snap
}

// toCanonicalMap converts the snapshot for model.MarshalCanonical, which
// only handles maps, slices and primitives. Empty fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"pass":    ev.Pass,
			"seq":     ev.Seq,
			"match":   ev.Match,
			"action":  ev.Action,
			"outcome": ev.Outcome,
		}
		for k, v := range map[string]string{"side": ev.Side, "target_id": ev.TargetID, "code": ev.Code} {
			if v != "" {
				m[k] = v
			}
		}
		trace[i] = m
	}

	passes := make([]any, len(s.Counters))
	for i, c := range s.Counters {
		m := make(map[string]any, len(c))
		for k, v := range c {
			m[k] = v
		}
		passes[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"passes":        passes,
	}
	if s.PassError != "" {
		out["pass_error"] = s.PassError
	}
	return out
}

// MarshalCanonical serializes the snapshot.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return model.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snap := NewTraceSnapshot(scenarioName, result)
	data, err := snap.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

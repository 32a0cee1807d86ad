package harness

import (
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/converge/internal/ir"
)

// Snapshot captures a scenario execution for golden comparison.
type Snapshot struct {
	ScenarioName string            `json:"scenario_name"`
	Batch        string            `json:"batch,omitempty"`
	Trace        []TraceEvent      `json:"trace"`
	Topics       map[string]string `json:"topics"`
	Residency    map[string]string `json:"residency"`
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles maps, slices and scalars.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":    int64(ev.Step),
			"kind":    ev.Kind,
			"key":     ev.Key,
			"outcome": ev.Outcome,
		}
		if ev.Sequence != nil {
			m["sequence"] = *ev.Sequence
		}
		if ev.AtMillis != nil {
			m["at_ms"] = *ev.AtMillis
		}
		if len(ev.Changed) > 0 {
			changed := make([]any, len(ev.Changed))
			for j, f := range ev.Changed {
				changed[j] = f
			}
			m["changed"] = changed
		}
		if ev.Duplicate {
			m["duplicate"] = true
		}
		trace[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"topics":        stringMap(s.Topics),
		"residency":     stringMap(s.Residency),
	}
	if s.Batch != "" {
		out["batch"] = s.Batch
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Marshal renders the snapshot as canonical JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// SnapshotOf builds the snapshot of a finished run.
func SnapshotOf(scenario *Scenario, result *Result) *Snapshot {
	return &Snapshot{
		ScenarioName: scenario.Name,
		Batch:        scenario.Batch,
		Trace:        slices.Clone(result.Trace),
		Topics:       result.Topics,
		Residency:    result.Residency,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, SnapshotOf(scenario, result)); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares a snapshot against its golden file.
func AssertGolden(t *testing.T, snapshot *Snapshot) error {
	t.Helper()

	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, snapshot.ScenarioName, data)
	return nil
}

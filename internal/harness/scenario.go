package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/converge/internal/ir"
)

// Scenario is a reconciliation test: a sequence of events delivered in a
// fixed order, expectations on each step, and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Batch is the fixed batch token stamped on every journal entry.
	// If empty, defaults to "test-batch-default".
	Batch string `yaml:"batch,omitempty"`

	// ResidentialGroups filters chat_member steps. Empty admits all groups.
	ResidentialGroups []int64 `yaml:"residential_groups,omitempty"`

	// Steps are delivered to the engine one at a time, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step delivers exactly one event.
type Step struct {
	Topic      *TopicStep      `yaml:"topic,omitempty"`
	Membership *MembershipStep `yaml:"membership,omitempty"`
	ChatMember *ChatMemberStep `yaml:"chat_member,omitempty"`

	// Expect checks the step's trace entry. If nil, nothing is checked.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// TopicStep is a topic update. When Sequence is omitted the step takes the
// next value of the scenario's sequencer.
type TopicStep struct {
	ChatID    int64   `yaml:"chat_id"`
	TopicID   int32   `yaml:"topic_id"`
	Sequence  *int64  `yaml:"sequence,omitempty"`
	Closed    *bool   `yaml:"closed,omitempty"`
	Name      *string `yaml:"name,omitempty"`
	IconColor *int32  `yaml:"icon_color,omitempty"`
	IconEmoji *string `yaml:"icon_emoji,omitempty"`
}

// MembershipStep is a join or leave.
type MembershipStep struct {
	SubjectID int64     `yaml:"subject_id"`
	GroupID   int64     `yaml:"group_id"`
	At        Timestamp `yaml:"at"`
	Change    string    `yaml:"change"`
}

// ChatMemberStep is a raw member update, translated before it is applied.
type ChatMemberStep struct {
	SubjectID  int64     `yaml:"subject_id"`
	GroupID    int64     `yaml:"group_id"`
	At         Timestamp `yaml:"at"`
	OldPresent bool      `yaml:"old_present"`
	NewPresent bool      `yaml:"new_present"`
	IsBot      bool      `yaml:"is_bot,omitempty"`
}

// StepExpect is checked against the step's trace entry.
type StepExpect struct {
	// Outcome is the expected trace outcome (see TraceEvent.Outcome).
	Outcome string `yaml:"outcome"`

	// Changed lists the topic fields expected to change, in canonical order.
	// Checked only when present.
	Changed []string `yaml:"changed,omitempty"`

	// Duplicate expects an exact redelivery.
	Duplicate bool `yaml:"duplicate,omitempty"`
}

// Timestamp accepts either Unix milliseconds or an RFC 3339 string.
type Timestamp struct {
	time.Time
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (ts *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	var ms int64
	if err := node.Decode(&ms); err == nil {
		ts.Time = ir.FromMillis(ms)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: timestamp must be milliseconds or RFC 3339", node.Line)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	ts.Time = t
	return nil
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "topic_state": stored topic fields and watermarks
	// - "intervals": stored history of a pair
	// - "is_open": membership of a pair at a point in time
	// - "trace_count": number of steps with a given outcome
	// - "final_state": query a table and verify expected values
	// - "converges": replay the topic steps in shuffled orders
	Type string `yaml:"type"`

	// ChatID and TopicID select the topic (topic_state).
	ChatID  int64 `yaml:"chat_id,omitempty"`
	TopicID int32 `yaml:"topic_id,omitempty"`

	// SubjectID and GroupID select the pair (intervals, is_open).
	SubjectID int64 `yaml:"subject_id,omitempty"`
	GroupID   int64 `yaml:"group_id,omitempty"`

	// At is the instant checked by is_open.
	At *Timestamp `yaml:"at,omitempty"`

	// Outcome and Count are used by trace_count.
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// Table and Where select the row (final_state).
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds the expected values. Its shape depends on Type:
	// field map for topic_state and final_state, interval string for
	// intervals, bool for is_open.
	Expect any `yaml:"expect,omitempty"`

	// Seeds is the number of shuffled replays (converges).
	Seeds int `yaml:"seeds,omitempty"`
}

// Assertion type constants.
const (
	AssertTopicState = "topic_state"
	AssertIntervals  = "intervals"
	AssertIsOpen     = "is_open"
	AssertTraceCount = "trace_count"
	AssertFinalState = "final_state"
	AssertConverges  = "converges"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		n := 0
		for _, set := range []bool{step.Topic != nil, step.Membership != nil, step.ChatMember != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of topic, membership, chat_member is required", i)
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("steps[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTopicState:
		if a.ChatID == 0 {
			return fmt.Errorf("assertions[%d]: chat_id is required for topic_state", index)
		}
		if _, ok := a.Expect.(map[string]any); !ok {
			return fmt.Errorf("assertions[%d]: expect must be a map for topic_state", index)
		}
	case AssertIntervals:
		if a.SubjectID == 0 || a.GroupID == 0 {
			return fmt.Errorf("assertions[%d]: subject_id and group_id are required for intervals", index)
		}
		if _, ok := a.Expect.(string); !ok {
			return fmt.Errorf("assertions[%d]: expect must be an interval string for intervals", index)
		}
	case AssertIsOpen:
		if a.SubjectID == 0 || a.GroupID == 0 || a.At == nil {
			return fmt.Errorf("assertions[%d]: subject_id, group_id and at are required for is_open", index)
		}
		if _, ok := a.Expect.(bool); !ok {
			return fmt.Errorf("assertions[%d]: expect must be a bool for is_open", index)
		}
	case AssertTraceCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if m, ok := a.Expect.(map[string]any); !ok || len(m) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertConverges:
		if a.Seeds <= 0 {
			return fmt.Errorf("assertions[%d]: seeds must be positive for converges", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

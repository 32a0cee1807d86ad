package harness

// Trace outcomes that are not membership outcomes.
const (
	OutcomeChanged     = "changed"
	OutcomeUnchanged   = "unchanged"
	OutcomeFiltered    = "filtered"
	OutcomeMalformed   = "malformed"
	OutcomePersistence = "persistence_failure"
)

// TraceEvent records what one step did.
type TraceEvent struct {
	Step int    `json:"step"`
	Kind string `json:"kind"` // "topic", "membership" or "chat_member"
	Key  string `json:"key"`

	// Sequence is set for topic steps, AtMillis for the others.
	Sequence *int64 `json:"sequence,omitempty"`
	AtMillis *int64 `json:"at_ms,omitempty"`

	// Outcome is "changed" or "unchanged" for topic steps, the membership
	// outcome (opened, already_open, ...) for membership steps, "filtered"
	// for chat member updates that translate to nothing, and "malformed"
	// or "persistence_failure" for rejected events.
	Outcome   string   `json:"outcome"`
	Changed   []string `json:"changed,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion matched.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Topics maps each stored topic key to its rendered state.
	Topics map[string]string `json:"topics"`

	// Residency maps each stored pair key to its rendered intervals.
	Residency map[string]string `json:"residency"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Topics:    map[string]string{},
		Residency: map[string]string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns how many trace entries have the given outcome. "duplicate"
// counts exact redeliveries instead.
func (r *Result) Count(outcome string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Outcome == outcome || (outcome == "duplicate" && ev.Duplicate) {
			n++
		}
	}
	return n
}

package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/converge/internal/clock"
	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/query"
	"github.com/roach88/converge/internal/store"
	"github.com/roach88/converge/internal/testutil"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Step, ev.Kind, ev.Key, ev.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// TopicEvents are the accepted topic events in delivery order.
	TopicEvents []ir.SequencedEvent
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertTopicState, AssertIntervals, AssertIsOpen, AssertFinalState, AssertConverges:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
				break
			}
			err = evaluateStateAssertion(actx, result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func evaluateStateAssertion(actx *AssertionContext, result *Result, a Assertion) error {
	q := query.New(actx.Store)
	switch a.Type {
	case AssertTopicState:
		return assertTopicState(actx.Ctx, q, a)
	case AssertIntervals:
		return assertIntervals(actx.Ctx, q, a)
	case AssertIsOpen:
		return assertIsOpen(actx.Ctx, q, a)
	case AssertFinalState:
		return assertFinalState(actx.Ctx, actx.Store, a)
	case AssertConverges:
		return assertConverges(actx.Ctx, result, actx.TopicEvents, a)
	}
	return fmt.Errorf("unknown state assertion %q", a.Type)
}

// assertTraceCount checks how many steps ended with the given outcome.
func assertTraceCount(result *Result, a Assertion) error {
	count := result.Count(a.Outcome)
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d steps with outcome %s", a.Count, a.Outcome),
			Actual:   fmt.Sprintf("%d steps", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

var watermarkKeys = map[string]ir.Field{
	"closed_watermark":     ir.FieldClosed,
	"name_watermark":       ir.FieldName,
	"icon_emoji_watermark": ir.FieldIconEmoji,
}

// assertTopicState compares topic fields and watermarks. A null expected
// value means the field must be absent. Keys not listed are not checked.
func assertTopicState(ctx context.Context, q *query.Facade, a Assertion) error {
	topic, _, err := q.GetTopic(ctx, a.ChatID, a.TopicID)
	if err != nil {
		return err
	}
	expect, _ := a.Expect.(map[string]any)

	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want := expect[k]
		if f, ok := watermarkKeys[k]; ok {
			n, ok := toInt64(want)
			if !ok || n != topic.Watermark(f) {
				return &AssertionError{
					Type:     AssertTopicState,
					Expected: fmt.Sprintf("%s %s = %v", topic.Key, k, want),
					Actual:   fmt.Sprintf("%d", topic.Watermark(f)),
				}
			}
			continue
		}

		f := ir.Field(k)
		if _, ok := f.Kind(); !ok {
			return fmt.Errorf("topic_state: unknown key %q", k)
		}
		wantVal, err := toValue(want)
		if err != nil {
			return fmt.Errorf("topic_state %s: %w", k, err)
		}
		if !ir.ValuesEqual(topic.Value(f), wantVal) {
			return &AssertionError{
				Type:     AssertTopicState,
				Expected: fmt.Sprintf("%s %s = %s", topic.Key, k, ir.FormatValue(wantVal)),
				Actual:   ir.FormatValue(topic.Value(f)),
			}
		}
	}
	return nil
}

// assertIntervals compares the rendered history of a pair.
func assertIntervals(ctx context.Context, q *query.Facade, a Assertion) error {
	history, err := q.History(ctx, a.SubjectID, a.GroupID)
	if err != nil {
		return err
	}
	want, _ := a.Expect.(string)
	if got := engine.DescribeIntervals(history); got != want {
		key := ir.ResidencyKey{SubjectID: a.SubjectID, GroupID: a.GroupID}
		return &AssertionError{
			Type:     AssertIntervals,
			Expected: fmt.Sprintf("%s %s", key, want),
			Actual:   got,
		}
	}
	return nil
}

// assertIsOpen checks membership at an instant.
func assertIsOpen(ctx context.Context, q *query.Facade, a Assertion) error {
	open, err := q.IsOpenAt(ctx, a.SubjectID, a.GroupID, a.At.Time)
	if err != nil {
		return err
	}
	want, _ := a.Expect.(bool)
	if open != want {
		key := ir.ResidencyKey{SubjectID: a.SubjectID, GroupID: a.GroupID}
		return &AssertionError{
			Type:     AssertIsOpen,
			Expected: fmt.Sprintf("%s open at %d = %t", key, ir.ToMillis(a.At.Time), want),
			Actual:   fmt.Sprintf("%t", open),
		}
	}
	return nil
}

// assertConverges replays the accepted topic events in seeded shuffled
// orders on fresh stores and compares every topic with the scenario's
// final state. icon_color follows arrival order and is not compared.
func assertConverges(ctx context.Context, result *Result, events []ir.SequencedEvent, a Assertion) error {
	for seed := uint64(1); seed <= uint64(a.Seeds); seed++ {
		shuffled := testutil.Shuffled(events, seed)

		st, err := store.Open(":memory:")
		if err != nil {
			return err
		}
		e := engine.New(st, engine.WithClock(clock.Fake(scenarioEpoch)))
		for _, ev := range shuffled {
			if _, err := e.ReconcileTopic(ctx, ev); err != nil {
				st.Close()
				return fmt.Errorf("converges seed %d: %w", seed, err)
			}
		}
		topics, err := st.AllTopics(ctx)
		st.Close()
		if err != nil {
			return err
		}

		if len(topics) != len(result.Topics) {
			return &AssertionError{
				Type:     AssertConverges,
				Expected: fmt.Sprintf("%d topics", len(result.Topics)),
				Actual:   fmt.Sprintf("%d topics with seed %d", len(topics), seed),
			}
		}
		for _, t := range topics {
			got := withoutIconColor(engine.DescribeTopic(t))
			want := withoutIconColor(result.Topics[t.Key.String()])
			if got != want {
				return &AssertionError{
					Type:     AssertConverges,
					Expected: fmt.Sprintf("%s %s", t.Key, want),
					Actual:   fmt.Sprintf("%s with seed %d", got, seed),
					Trace:    result.Trace,
				}
			}
		}
	}
	return nil
}

// withoutIconColor drops the icon_color term from a rendered topic.
func withoutIconColor(rendered string) string {
	parts := strings.Fields(rendered)
	kept := parts[:0]
	for _, p := range parts {
		if !strings.HasPrefix(p, string(ir.FieldIconColor)+"=") {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// assertFinalState checks if a row of a state table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Table and column names are validated against a whitelist pattern since
// identifiers cannot be parameterized.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		stmt += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, stmt, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// More than one match makes the assertion ambiguous.
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	expect, _ := assertion.Expect.(map[string]any)
	for key, expectedValue := range expect {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a value scanned
// from SQLite, which returns integers as int64 and stores booleans as 0/1.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case bool:
		if act, ok := actual.(int64); ok {
			return exp == (act != 0)
		}
		act, ok := actual.(bool)
		return ok && exp == act
	}

	if exp, ok := toInt64(expected); ok {
		act, ok := toInt64(actual)
		return ok && exp == act
	}
	return reflect.DeepEqual(expected, actual)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// toValue converts a YAML scalar to a field value. nil means absent.
func toValue(v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return ir.String(val), nil
	case bool:
		return ir.Bool(val), nil
	case float64:
		return nil, fmt.Errorf("floats are not field values: %v", val)
	}
	if n, ok := toInt64(v); ok {
		return ir.Int(n), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

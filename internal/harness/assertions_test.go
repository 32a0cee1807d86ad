package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runFailing runs scenario and returns its errors, requiring at least one.
func runFailing(t *testing.T, scenario *Scenario) []string {
	t.Helper()
	result, err := Run(scenario)
	require.NoError(t, err)
	require.False(t, result.Pass, "expected the scenario to fail")
	return result.Errors
}

func topicScenario(assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "topic",
		Description: "one topic",
		Steps: []Step{
			{Topic: &TopicStep{ChatID: -5, TopicID: 2, Sequence: ptr(int64(4)), Name: ptr("Hall"), IconColor: ptr(int32(9))}},
		},
		Assertions: assertions,
	}
}

func pairScenario(assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "pair",
		Description: "one closed interval",
		Steps: []Step{
			{Membership: &MembershipStep{SubjectID: 3, GroupID: -5, At: ms(100), Change: "joined"}},
			{Membership: &MembershipStep{SubjectID: 3, GroupID: -5, At: ms(200), Change: "left"}},
		},
		Assertions: assertions,
	}
}

func TestAssertTopicState(t *testing.T) {
	result, err := Run(topicScenario(Assertion{
		Type:   AssertTopicState,
		ChatID: -5, TopicID: 2,
		Expect: map[string]any{
			"name":             "Hall",
			"name_watermark":   4,
			"icon_color":       9,
			"closed":           nil,
			"closed_watermark": -1,
		},
	}))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertTopicState_Mismatch(t *testing.T) {
	tests := []struct {
		name   string
		expect map[string]any
		want   string
	}{
		{"value", map[string]any{"name": "Lobby"}, `topic:-5:2 name = "Lobby"`},
		{"watermark", map[string]any{"name_watermark": 3}, "topic:-5:2 name_watermark = 3"},
		{"absent", map[string]any{"icon_color": nil}, "icon_color = <absent>"},
		{"unknown key", map[string]any{"title": "x"}, `unknown key "title"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := runFailing(t, topicScenario(Assertion{
				Type: AssertTopicState, ChatID: -5, TopicID: 2, Expect: tt.expect,
			}))
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestAssertTopicState_UnknownTopicIsEmpty(t *testing.T) {
	result, err := Run(topicScenario(Assertion{
		Type:   AssertTopicState,
		ChatID: -5, TopicID: 99,
		Expect: map[string]any{"name": nil, "name_watermark": -1},
	}))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertIntervals(t *testing.T) {
	result, err := Run(pairScenario(
		Assertion{Type: AssertIntervals, SubjectID: 3, GroupID: -5, Expect: "[100,200)"},
		Assertion{Type: AssertIntervals, SubjectID: 4, GroupID: -5, Expect: "<none>"},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	errs := runFailing(t, pairScenario(
		Assertion{Type: AssertIntervals, SubjectID: 3, GroupID: -5, Expect: "[100,inf)"},
	))
	assert.Contains(t, errs[0], "Actual: [100,200)")
}

func TestAssertIsOpen(t *testing.T) {
	at := func(n int64) *Timestamp { ts := ms(n); return &ts }

	result, err := Run(pairScenario(
		Assertion{Type: AssertIsOpen, SubjectID: 3, GroupID: -5, At: at(99), Expect: false},
		Assertion{Type: AssertIsOpen, SubjectID: 3, GroupID: -5, At: at(100), Expect: true},
		Assertion{Type: AssertIsOpen, SubjectID: 3, GroupID: -5, At: at(199), Expect: true},
		Assertion{Type: AssertIsOpen, SubjectID: 3, GroupID: -5, At: at(200), Expect: false},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	errs := runFailing(t, pairScenario(
		Assertion{Type: AssertIsOpen, SubjectID: 3, GroupID: -5, At: at(250), Expect: true},
	))
	assert.Contains(t, errs[0], "residency:3:-5 open at 250 = true")
}

func TestAssertTraceCount_Mismatch(t *testing.T) {
	errs := runFailing(t, pairScenario(
		Assertion{Type: AssertTraceCount, Outcome: "opened", Count: 2},
	))
	assert.Contains(t, errs[0], "2 steps with outcome opened")
	assert.Contains(t, errs[0], "Actual: 1 steps")
}

func TestAssertFinalState(t *testing.T) {
	result, err := Run(topicScenario(Assertion{
		Type:   AssertFinalState,
		Table:  "topics",
		Where:  map[string]any{"chat_id": -5, "topic_id": 2},
		Expect: map[string]any{"name": "Hall", "wm_name": 4, "icon_color": 9, "closed": nil},
	}))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertFinalState_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "row not found",
			assertion: Assertion{Type: AssertFinalState, Table: "topics", Where: map[string]any{"chat_id": 1}, Expect: map[string]any{"name": "x"}},
			want:      "row not found",
		},
		{
			name:      "value mismatch",
			assertion: Assertion{Type: AssertFinalState, Table: "topics", Where: map[string]any{"chat_id": -5}, Expect: map[string]any{"wm_name": 5}},
			want:      `field "wm_name" = 5`,
		},
		{
			name:      "missing column",
			assertion: Assertion{Type: AssertFinalState, Table: "topics", Expect: map[string]any{"title": "x"}},
			want:      `field "title" to exist`,
		},
		{
			name:      "invalid table",
			assertion: Assertion{Type: AssertFinalState, Table: "topics; DROP TABLE topics", Expect: map[string]any{"name": "x"}},
			want:      "invalid table name",
		},
		{
			name:      "invalid column",
			assertion: Assertion{Type: AssertFinalState, Table: "topics", Where: map[string]any{"1=1 OR chat_id": 1}, Expect: map[string]any{"name": "x"}},
			want:      "invalid column name",
		},
		{
			name:      "unknown table",
			assertion: Assertion{Type: AssertFinalState, Table: "nope", Expect: map[string]any{"name": "x"}},
			want:      "query error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := runFailing(t, topicScenario(tt.assertion))
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestAssertFinalState_Ambiguous(t *testing.T) {
	scenario := pairScenario(Assertion{
		Type:   AssertFinalState,
		Table:  "residency_intervals",
		Where:  map[string]any{"subject_id": 3},
		Expect: map[string]any{"group_id": -5},
	})
	scenario.Steps = append(scenario.Steps,
		Step{Membership: &MembershipStep{SubjectID: 3, GroupID: -5, At: ms(300), Change: "joined"}})

	errs := runFailing(t, scenario)
	assert.Contains(t, errs[0], "multiple rows matched")
}

func TestAssertConverges(t *testing.T) {
	scenario := &Scenario{
		Name:        "converges",
		Description: "topic events in any order",
		Steps: []Step{
			{Topic: &TopicStep{ChatID: 1, TopicID: 1, Sequence: ptr(int64(3)), Closed: ptr(true), Name: ptr("a")}},
			{Topic: &TopicStep{ChatID: 1, TopicID: 1, Sequence: ptr(int64(9)), Name: ptr("b")}},
			{Topic: &TopicStep{ChatID: 1, TopicID: 1, Sequence: ptr(int64(6)), Closed: ptr(false), IconColor: ptr(int32(4))}},
			{Topic: &TopicStep{ChatID: 1, TopicID: 2, Sequence: ptr(int64(1)), IconEmoji: ptr("42")}},
			{Topic: &TopicStep{ChatID: 1, TopicID: 1, Sequence: ptr(int64(2)), IconColor: ptr(int32(8))}},
		},
		Assertions: []Assertion{{Type: AssertConverges, Seeds: 25}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestEvaluateAssertions_NoContext(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertTraceCount, Outcome: "opened", Count: 0},
		{Type: AssertIntervals, SubjectID: 1, GroupID: 2, Expect: "<none>"},
	}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires database context")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		expected, actual any
		want             bool
	}{
		{"a", "a", true},
		{"a", []byte("a"), true},
		{"a", "b", false},
		{true, int64(1), true},
		{false, int64(0), true},
		{true, int64(0), false},
		{7, int64(7), true},
		{7, int64(8), false},
		{7, "7", false},
		{nil, nil, true},
		{nil, int64(0), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual), "%v vs %v", tt.expected, tt.actual)
	}
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"topic_id": 2, "chat_id": -5})
	require.NoError(t, err)
	assert.Equal(t, "chat_id = ? AND topic_id = ?", sql)
	assert.Equal(t, []any{-5, 2}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestWithoutIconColor(t *testing.T) {
	assert.Equal(t,
		`closed=true@3 name="a"@9 icon_emoji=<absent>@-1`,
		withoutIconColor(`closed=true@3 name="a"@9 icon_color=4 icon_emoji=<absent>@-1`))
}

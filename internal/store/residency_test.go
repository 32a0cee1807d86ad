package store

import (
	"context"
	"strings"
	"testing"

	"github.com/roach88/converge/internal/ir"
)

var testPair = ir.ResidencyKey{SubjectID: 1001, GroupID: -100123}

func openAt(ms int64) ResidencyFunc {
	return func(h []ir.Interval) ([]ir.Interval, error) {
		return append(h, ir.Interval{SubjectID: testPair.SubjectID, GroupID: testPair.GroupID, Begin: at(ms)}), nil
	}
}

func closeAt(ms int64) ResidencyFunc {
	return func(h []ir.Interval) ([]ir.Interval, error) {
		for i := range h {
			if h[i].Open() {
				h[i].End = ptr(at(ms))
			}
		}
		return h, nil
	}
}

func TestWithResidency_OpenAndClose(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WithResidency(ctx, testPair, nil, openAt(10)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := s.WithResidency(ctx, testPair, nil, closeAt(30)); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := s.WithResidency(ctx, testPair, nil, openAt(40)); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	h, err := s.ReadIntervals(ctx, testPair)
	if err != nil {
		t.Fatalf("ReadIntervals failed: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("len = %d, want 2", len(h))
	}
	if !h[0].Begin.Equal(at(10)) || h[0].End == nil || !h[0].End.Equal(at(30)) {
		t.Errorf("h[0] = %+v, want [10,30)", h[0])
	}
	if !h[1].Begin.Equal(at(40)) || !h[1].Open() {
		t.Errorf("h[1] = %+v, want [40,...)", h[1])
	}
	if h[0].ID == 0 || h[1].ID == 0 {
		t.Error("stored intervals must have ids")
	}
}

func TestWithResidency_CloseAndReopenInOneCall(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WithResidency(ctx, testPair, nil, openAt(10)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err := s.WithResidency(ctx, testPair, nil, func(h []ir.Interval) ([]ir.Interval, error) {
		h, _ = closeAt(20)(h)
		return openAt(20)(h)
	})
	if err != nil {
		t.Fatalf("close+open failed: %v", err)
	}

	h, _ := s.ReadIntervals(ctx, testPair)
	if len(h) != 2 || !h[1].Open() {
		t.Errorf("history = %+v", h)
	}
}

func TestWithResidency_StorageRejectsSecondOpenInterval(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WithResidency(ctx, testPair, nil, openAt(10)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err := s.WithResidency(ctx, testPair, nil, openAt(20))
	if err == nil || !strings.Contains(err.Error(), "UNIQUE") {
		t.Fatalf("err = %v, want UNIQUE constraint failure", err)
	}

	h, _ := s.ReadIntervals(ctx, testPair)
	if len(h) != 1 {
		t.Errorf("len = %d, want 1", len(h))
	}
}

func TestWithResidency_RejectsRemovalAndBeginChange(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WithResidency(ctx, testPair, nil, openAt(10)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	_, err := s.WithResidency(ctx, testPair, nil, func([]ir.Interval) ([]ir.Interval, error) { return nil, nil })
	if err == nil {
		t.Error("removing an interval should fail")
	}

	_, err = s.WithResidency(ctx, testPair, nil, func(h []ir.Interval) ([]ir.Interval, error) {
		h[0].Begin = at(5)
		return h, nil
	})
	if err == nil {
		t.Error("changing begin should fail")
	}
}

func TestWithResidency_PersistenceFailureLeavesStateUnchanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WithResidency(ctx, testPair, nil, openAt(10)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	failInserts(t, s, "event_journal")

	_, err := s.WithResidency(ctx, testPair, createTestEntry("m1", KindMembership, testPair.String()), closeAt(30))
	if err == nil {
		t.Fatal("expected injected failure")
	}

	h, _ := s.ReadIntervals(ctx, testPair)
	if len(h) != 1 || !h[0].Open() {
		t.Errorf("history = %+v, want one open interval", h)
	}
}

func TestOpenIntervalsAndKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	groups := []int64{-3, -1, -2}
	for _, g := range groups {
		key := ir.ResidencyKey{SubjectID: 7, GroupID: g}
		_, err := s.WithResidency(ctx, key, nil, func(h []ir.Interval) ([]ir.Interval, error) {
			return append(h, ir.Interval{SubjectID: 7, GroupID: g, Begin: at(1)}), nil
		})
		if err != nil {
			t.Fatalf("open %d failed: %v", g, err)
		}
	}
	closed := ir.ResidencyKey{SubjectID: 7, GroupID: -2}
	_, err := s.WithResidency(ctx, closed, nil, func(h []ir.Interval) ([]ir.Interval, error) {
		h[0].End = ptr(at(5))
		return h, nil
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	open, err := s.OpenIntervals(ctx, 7)
	if err != nil {
		t.Fatalf("OpenIntervals failed: %v", err)
	}
	if len(open) != 2 || open[0].GroupID != -3 || open[1].GroupID != -1 {
		t.Errorf("open = %+v, want groups -3, -1", open)
	}

	keys, err := s.ResidencyKeys(ctx)
	if err != nil {
		t.Fatalf("ResidencyKeys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("len(keys) = %d, want 3", len(keys))
	}
}

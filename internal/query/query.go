package query

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/converge/internal/clock"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/store"
)

// Facade answers questions about topics and residency.
type Facade struct {
	store       *store.Store
	clock       clock.Clock
	residential []int64
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock sets the clock IsOpen uses for "now".
func WithClock(c clock.Clock) Option {
	return func(f *Facade) {
		f.clock = c
	}
}

// WithResidentialGroups restricts Resident to the given groups. With no
// groups configured, an open interval in any group counts.
func WithResidentialGroups(groups ...int64) Option {
	return func(f *Facade) {
		f.residential = slices.Clone(groups)
	}
}

// New creates a Facade over s.
func New(s *store.Store, opts ...Option) *Facade {
	f := &Facade{store: s, clock: clock.Real()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GetTopic returns the snapshot of a topic. A topic no event has touched is
// reported with found=false and every field absent.
func (f *Facade) GetTopic(ctx context.Context, chatID int64, topicID int32) (t ir.Topic, found bool, err error) {
	key := ir.TopicKey{ChatID: chatID, TopicID: topicID}
	t, found, err = f.store.ReadTopic(ctx, key)
	if err != nil {
		return ir.Topic{}, false, fmt.Errorf("get topic %s: %w", key, err)
	}
	if !found {
		return ir.NewTopic(key), false, nil
	}
	return t, true, nil
}

// Topics returns every known topic of a chat ordered by topic id.
func (f *Facade) Topics(ctx context.Context, chatID int64) ([]ir.Topic, error) {
	topics, err := f.store.ListTopics(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list topics of chat %d: %w", chatID, err)
	}
	return topics, nil
}

// IsOpen reports whether subject is a member of group now.
func (f *Facade) IsOpen(ctx context.Context, subjectID, groupID int64) (bool, error) {
	return f.IsOpenAt(ctx, subjectID, groupID, f.clock.Now())
}

// IsOpenAt reports whether some interval of the pair contains t.
func (f *Facade) IsOpenAt(ctx context.Context, subjectID, groupID int64, t time.Time) (bool, error) {
	history, err := f.History(ctx, subjectID, groupID)
	if err != nil {
		return false, err
	}
	t = ir.Truncate(t)
	return slices.ContainsFunc(history, func(iv ir.Interval) bool {
		return iv.Contains(t)
	}), nil
}

// History returns the intervals of the pair ordered by begin.
func (f *Facade) History(ctx context.Context, subjectID, groupID int64) ([]ir.Interval, error) {
	key := ir.ResidencyKey{SubjectID: subjectID, GroupID: groupID}
	history, err := f.store.ReadIntervals(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	return history, nil
}

// Resident reports whether subject currently has an open interval in a
// residential group.
func (f *Facade) Resident(ctx context.Context, subjectID int64) (bool, error) {
	groups, err := f.ResidentGroups(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return len(groups) > 0, nil
}

// ResidentGroups lists the residential groups subject is currently open in,
// in ascending order.
func (f *Facade) ResidentGroups(ctx context.Context, subjectID int64) ([]int64, error) {
	open, err := f.store.OpenIntervals(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("open intervals of subject %d: %w", subjectID, err)
	}

	var groups []int64
	for _, iv := range open {
		if len(f.residential) == 0 || slices.Contains(f.residential, iv.GroupID) {
			groups = append(groups, iv.GroupID)
		}
	}
	slices.Sort(groups)
	return groups, nil
}

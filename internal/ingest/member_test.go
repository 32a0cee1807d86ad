package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/converge/internal/ir"
)

func TestTranslate(t *testing.T) {
	at := ir.FromMillis(1_000)
	base := ChatMemberUpdate{SubjectID: 7, GroupID: -100, At: at}

	tests := []struct {
		name     string
		old, new bool
		bot      bool
		filter   Filter
		wantOK   bool
		wantKind ir.MembershipKind
	}{
		{name: "join", old: false, new: true, wantOK: true, wantKind: ir.Joined},
		{name: "leave", old: true, new: false, wantOK: true, wantKind: ir.Left},
		{name: "promotion", old: true, new: true},
		{name: "still absent", old: false, new: false},
		{name: "bot", old: false, new: true, bot: true},
		{name: "residential", old: false, new: true, filter: Filter{Residential: []int64{-100}}, wantOK: true, wantKind: ir.Joined},
		{name: "non-residential", old: false, new: true, filter: Filter{Residential: []int64{-200}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := base
			u.OldPresent, u.NewPresent, u.IsBot = tt.old, tt.new, tt.bot

			ev, ok := tt.filter.Translate(u)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, ir.ResidencyKey{SubjectID: 7, GroupID: -100}, ev.Key())
			assert.Equal(t, at, ev.At)
		})
	}
}

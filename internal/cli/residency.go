package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/query"
)

// ResidencyOptions holds flags for the residency command.
type ResidencyOptions struct {
	*RootOptions
	SubjectID int64
	GroupID   int64
	At        string
}

// PairView is the JSON shape of a pair lookup.
type PairView struct {
	Key       ir.ResidencyKey `json:"key"`
	AtMillis  int64           `json:"at_ms"`
	Open      bool            `json:"open"`
	Intervals []ir.Interval   `json:"intervals"`
}

// SubjectView is the JSON shape of a residency lookup.
type SubjectView struct {
	SubjectID int64   `json:"subject_id"`
	Resident  bool    `json:"resident"`
	Groups    []int64 `json:"groups"`
}

// NewResidencyCommand creates the residency command.
func NewResidencyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResidencyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "residency --subject <id> [--group <id>] [--at <time>]",
		Short: "Show membership intervals and residency",
		Long: `With --group, print the interval history of the pair and whether it is open
now (or at --at). Without --group, report whether the subject is a resident:
open in any configured residential group, or in any group when none are
configured.

--at accepts RFC 3339 or Unix milliseconds.

Examples:
  converge residency --subject 1001 --group -100123
  converge residency --subject 1001 --group -100123 --at 2026-01-02T15:04:05Z
  converge residency --subject 1001 --config converge.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResidency(opts, cmd.Flags().Changed("group"), cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.SubjectID, "subject", 0, "subject id (required)")
	cmd.Flags().Int64Var(&opts.GroupID, "group", 0, "group id")
	cmd.Flags().StringVar(&opts.At, "at", "", "instant to check instead of now (requires --group)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runResidency(opts *ResidencyOptions, pair bool, cmd *cobra.Command) error {
	if opts.At != "" && !pair {
		return NewExitError(ExitCommandError, "--at requires --group")
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := commandContext(cmd)
	q := query.New(st, query.WithResidentialGroups(opts.Config.ResidentialGroups...))
	p := opts.printer(cmd)

	if !pair {
		groups, err := q.ResidentGroups(ctx, opts.SubjectID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read residency", err)
		}
		if groups == nil {
			groups = []int64{}
		}
		view := SubjectView{SubjectID: opts.SubjectID, Resident: len(groups) > 0, Groups: groups}
		return p.OK(view, func(w io.Writer) {
			if !view.Resident {
				fmt.Fprintf(w, "Subject %d is not a resident.\n", view.SubjectID)
				return
			}
			fmt.Fprintf(w, "Subject %d is a resident of %v.\n", view.SubjectID, view.Groups)
		})
	}

	var (
		at   = time.Now()
		open bool
	)
	if opts.At != "" {
		at, err = parseInstant(opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --at %q", opts.At), err)
		}
		open, err = q.IsOpenAt(ctx, opts.SubjectID, opts.GroupID, at)
	} else {
		open, err = q.IsOpen(ctx, opts.SubjectID, opts.GroupID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to check membership", err)
	}
	history, err := q.History(ctx, opts.SubjectID, opts.GroupID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if history == nil {
		history = []ir.Interval{}
	}

	view := PairView{
		Key:       ir.ResidencyKey{SubjectID: opts.SubjectID, GroupID: opts.GroupID},
		AtMillis:  ir.ToMillis(at),
		Open:      open,
		Intervals: history,
	}
	return p.OK(view, func(w io.Writer) {
		state := "closed"
		if view.Open {
			state = "open"
		}
		fmt.Fprintf(w, "%s %s at %d\n", view.Key, state, view.AtMillis)
		fmt.Fprintf(w, "  %s\n", engine.DescribeIntervals(view.Intervals))
	})
}

// parseInstant accepts Unix milliseconds or RFC 3339.
func parseInstant(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ir.FromMillis(ms), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

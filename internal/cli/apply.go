package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ingest"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	KeepGoing bool

	// BatchGenerator overrides the batch token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	BatchGenerator engine.BatchTokenGenerator
}

// ApplyResult summarizes an apply run.
type ApplyResult struct {
	Files      int            `json:"files"`
	Events     int            `json:"events"`
	Changed    int            `json:"changed"`
	Unchanged  int            `json:"unchanged"`
	Duplicates int            `json:"duplicates"`
	Outcomes   map[string]int `json:"outcomes"`
	Rejected   []string       `json:"rejected,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [file...]",
		Short: "Apply JSONL events to the store",
		Long: `Apply topic updates, membership events and chat member updates read from
JSONL files (or stdin when no file or "-" is given). Each file is one batch.

Chat member updates are translated using the configured residential groups.

Exit codes:
  0 - All records applied
  1 - One or more records were malformed
  2 - Command error (unreadable file, database failure)

Examples:
  converge apply events.jsonl
  converge apply --keep-going a.jsonl b.jsonl
  cat events.jsonl | converge apply --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"-"}
			}
			return runApply(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.KeepGoing, "keep-going", "k", false, "continue past malformed records")

	return cmd
}

func runApply(opts *ApplyOptions, files []string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	gen := opts.BatchGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	eng := engine.New(st, engine.WithBatchGenerator(gen))
	filter := ingest.Filter{Residential: opts.Config.ResidentialGroups}

	result := ApplyResult{Outcomes: map[string]int{}}
	for _, name := range files {
		if err := applyFile(ctx, eng, filter, name, opts.KeepGoing, cmd.InOrStdin(), &result); err != nil {
			return err
		}
		result.Files++
	}

	p := opts.printer(cmd)
	if len(result.Rejected) > 0 {
		return p.Fail("E_MALFORMED", fmt.Sprintf("%d record(s) rejected", len(result.Rejected)),
			result, func(w io.Writer) { writeApplyText(w, result) })
	}
	return p.OK(result, func(w io.Writer) { writeApplyText(w, result) })
}

func applyFile(ctx context.Context, eng *engine.Engine, filter ingest.Filter, name string, keepGoing bool, stdin io.Reader, result *ApplyResult) error {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		r = f
	}

	batch := eng.NewBatch()
	slog.Debug("applying file", "file", name, "batch", batch)

	reject := func(err error) error {
		result.Rejected = append(result.Rejected, fmt.Sprintf("%s: %v", name, err))
		if keepGoing {
			return nil
		}
		return errStopApply
	}

	err := ingest.ReadAll(r, filter,
		func(line int, ev engine.Event) error {
			ev.Batch = batch
			res, err := eng.Apply(ctx, ev)
			switch {
			case engine.IsMalformed(err):
				return reject(&ingest.LineError{Line: line, Err: err})
			case err != nil:
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: line %d", name, line), err)
			}
			result.record(ev, res)
			return nil
		},
		reject,
	)
	if errors.Is(err, errStopApply) {
		return nil
	}
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", name), err)
	}
	return nil
}

// errStopApply ends reading a file after a rejected record.
var errStopApply = errors.New("stop")

func (r *ApplyResult) record(ev engine.Event, res engine.Result) {
	r.Events++
	if res.Duplicate {
		r.Duplicates++
	}
	if ev.Type == engine.EventTypeMembership {
		r.Outcomes[res.Outcome.String()]++
		return
	}
	if res.Changes.Empty() {
		r.Unchanged++
	} else {
		r.Changed++
	}
}

func writeApplyText(w io.Writer, r ApplyResult) {
	fmt.Fprintf(w, "Applied %d event(s) from %d file(s)\n", r.Events, r.Files)
	fmt.Fprintf(w, "  Topics: %d changed, %d unchanged\n", r.Changed, r.Unchanged)

	outcomes := make([]string, 0, len(r.Outcomes))
	for o := range r.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  Membership %s: %d\n", o, r.Outcomes[o])
	}
	if r.Duplicates > 0 {
		fmt.Fprintf(w, "  Duplicates: %d\n", r.Duplicates)
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(w, "  Rejected %s\n", rej)
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ingest"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	URL          string
	Subject      string
	Queue        string
	Workers      int
	DrainTimeout time.Duration

	// BatchGenerator overrides the batch token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	BatchGenerator engine.BatchTokenGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume events from NATS",
		Long: `Subscribe to a NATS subject and apply every JSONL record received. Each
message is one batch. Records are queued and applied by a pool of workers;
malformed records and storage failures are logged and skipped.

On SIGINT or SIGTERM the subscription is drained, queued events are applied,
and the process exits.

Flags override the nats section of the config file.

Example:
  converge serve --config converge.yaml
  converge serve --db ./converge.db --nats nats://127.0.0.1:4222 --subject converge.events --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyConfig(cmd)
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "nats", "", "NATS server URL")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject to subscribe to")
	cmd.Flags().StringVar(&opts.Queue, "queue", "", "queue group shared by several instances")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of apply workers")
	cmd.Flags().DurationVar(&opts.DrainTimeout, "drain-timeout", 10*time.Second, "how long to wait for queued events on shutdown")

	return cmd
}

// applyConfig fills every flag the user did not set from the config file.
func (o *ServeOptions) applyConfig(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("nats") {
		o.URL = o.Config.NATS.URL
	}
	if !flags.Changed("subject") {
		o.Subject = o.Config.NATS.Subject
	}
	if !flags.Changed("queue") {
		o.Queue = o.Config.NATS.Queue
	}
	if !flags.Changed("workers") {
		o.Workers = o.Config.Workers
	}
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	if opts.Workers < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("workers must be >= 1, got %d", opts.Workers))
	}

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

	nc, err := ingest.Connect(opts.URL, "converge")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to NATS", err)
	}
	defer nc.Close()

	sub := ingest.NewSubscriber(eng, ingest.SubscriberConfig{
		Subject: opts.Subject,
		Queue:   opts.Queue,
		Filter:  ingest.Filter{Residential: opts.Config.ResidentialGroups},
	})
	if err := sub.Start(nc); err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe", err)
	}

	// Signals end the subscription; the workers keep their own context so
	// queued events still drain.
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(runCtx, opts.Workers)
	}()

	slog.Info("serving",
		"db", opts.Config.Database,
		"nats", opts.URL,
		"subject", opts.Subject,
		"queue", opts.Queue,
		"workers", opts.Workers,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", opts.Subject)

	select {
	case <-ctx.Done():
		slog.Info("shutting down", "pending", eng.Pending())
	case err := <-runErr:
		_ = sub.Drain()
		return WrapExitError(ExitFailure, "engine stopped unexpectedly", err)
	}

	if err := sub.Drain(); err != nil {
		slog.Warn("drain subscription", "error", err)
	}
	eng.Stop()

	timer := time.NewTimer(opts.DrainTimeout)
	defer timer.Stop()
	select {
	case err = <-runErr:
	case <-timer.C:
		slog.Warn("drain timeout, abandoning queued events", "pending", eng.Pending())
		cancelRun()
		err = <-runErr
	}

	received, rejected, dropped := sub.Stats()
	processed, failed := eng.Stats()
	slog.Info("stopped",
		"received", received,
		"rejected", rejected,
		"dropped", dropped,
		"processed", processed,
		"failed", failed,
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	return nil
}

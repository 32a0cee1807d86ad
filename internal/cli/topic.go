package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/query"
)

// TopicView is the JSON shape of a single topic lookup.
type TopicView struct {
	Found bool     `json:"found"`
	Topic ir.Topic `json:"topic"`
}

// TopicOptions holds flags for the topic command.
type TopicOptions struct {
	*RootOptions
	ChatID  int64
	TopicID int32
}

// NewTopicCommand creates the topic command.
func NewTopicCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopicOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "topic --chat <id> [--topic <id>]",
		Short: "Show reconciled topic state",
		Long: `Show the reconciled state of one topic, or list every known topic of a
chat ordered by topic id. Each field is printed with its watermark; icon_color
has none.

Examples:
  converge topic --chat -100123 --topic 7
  converge topic --chat -100123 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopic(opts, cmd.Flags().Changed("topic"), cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.ChatID, "chat", 0, "chat id (required)")
	cmd.Flags().Int32Var(&opts.TopicID, "topic", 0, "topic id; lists the chat's topics when omitted")
	_ = cmd.MarkFlagRequired("chat")

	return cmd
}

func runTopic(opts *TopicOptions, single bool, cmd *cobra.Command) error {
	chatID := opts.ChatID
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := commandContext(cmd)
	q := query.New(st)
	p := opts.printer(cmd)

	if !single {
		topics, err := q.Topics(ctx, chatID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list topics", err)
		}
		if topics == nil {
			topics = []ir.Topic{}
		}
		return p.OK(topics, func(w io.Writer) {
			if len(topics) == 0 {
				fmt.Fprintf(w, "No topics known in chat %d.\n", chatID)
				return
			}
			for _, t := range topics {
				fmt.Fprintf(w, "%s %s\n", t.Key, engine.DescribeTopic(t))
			}
		})
	}

	t, found, err := q.GetTopic(ctx, chatID, opts.TopicID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read topic", err)
	}
	return p.OK(TopicView{Found: found, Topic: t}, func(w io.Writer) {
		if !found {
			fmt.Fprintf(w, "%s: no events applied\n", t.Key)
			return
		}
		fmt.Fprintf(w, "%s %s\n", t.Key, engine.DescribeTopic(t))
	})
}

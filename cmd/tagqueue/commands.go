package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aridsondez/tagqueue/internal/queue"
)

func newMigrateCommand(with withFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the queue table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reset, _ := cmd.Flags().GetBool("reset")
			return with(cmd, func(b *backend) error {
				if reset {
					if err := b.tables.ResetTable(cmd.Context()); err != nil {
						return err
					}
					printf(cmd, "table reset\n")
					return nil
				}
				if err := b.tables.CreateTable(cmd.Context()); err != nil {
					return err
				}
				printf(cmd, "table ready\n")
				return nil
			})
		},
	}
	cmd.Flags().Bool("reset", false, "Drop and recreate the table, losing every message")
	return cmd
}

func newDropCommand(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop the queue table and its migration history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return with(cmd, func(b *backend) error {
				if err := b.tables.DropTable(cmd.Context()); err != nil {
					return err
				}
				printf(cmd, "table dropped\n")
				return nil
			})
		},
	}
}

func newEnqueueCommand(with withFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <tag> <body>",
		Short: "Add a message to a tag",
		Long: `Add a message to a tag.

With the json codec a body that is valid JSON is stored as is, anything
else is stored as a JSON string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, _ := cmd.Flags().GetDuration("delay")
			at, _ := cmd.Flags().GetString("schedule")

			var opts []queue.EnqueueOption
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --schedule: %w", err)
				}
				opts = append(opts, queue.WithSchedule(t))
			} else if delay > 0 {
				opts = append(opts, queue.WithDelay(delay))
			}

			return with(cmd, func(b *backend) error {
				id, err := b.queue.Enqueue(cmd.Context(), args[0], payload(b.queue, args[1]), opts...)
				if err != nil {
					return err
				}
				printf(cmd, "%d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Duration("delay", 0, "Hide the message for this long")
	cmd.Flags().String("schedule", "", "Hide the message until this RFC3339 time (wins over --delay)")
	return cmd
}

func payload(q *queue.Queue, body string) any {
	if _, raw := q.Codec().(queue.Raw); raw {
		return body
	}
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	return body
}

func newDequeueCommand(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue <tag>",
		Short: "Remove the oldest eligible message of a tag and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return with(cmd, func(b *backend) error {
				msg, err := b.queue.DequeueImmediate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if msg == nil {
					return errors.New("no eligible message")
				}
				return printJSON(cmd, msg)
			})
		},
	}
}

func newCancelCommand(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Delete a message nobody is processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return with(cmd, func(b *backend) error {
				ok, err := b.queue.Cancel(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("message %d not found or in progress", id)
				}
				printf(cmd, "cancelled %d\n", id)
				return nil
			})
		},
	}
}

func newListCommand(with withFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <tag>",
		Short: "Print the unheld messages of a tag, one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := inspectOptions(cmd)
			return with(cmd, func(b *backend) error {
				msgs, err := b.queue.List(cmd.Context(), args[0], opts...)
				if err != nil {
					return err
				}
				for i := range msgs {
					if err := printJSON(cmd, &msgs[i]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("include-scheduled", false, "Include messages scheduled for later")
	return cmd
}

func newCountCommand(with withFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <tag>",
		Short: "Count the unheld messages of a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := inspectOptions(cmd)
			return with(cmd, func(b *backend) error {
				n, err := b.queue.Count(cmd.Context(), args[0], opts...)
				if err != nil {
					return err
				}
				printf(cmd, "%d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Bool("include-scheduled", false, "Include messages scheduled for later")
	return cmd
}

func inspectOptions(cmd *cobra.Command) []queue.ListOption {
	if all, _ := cmd.Flags().GetBool("include-scheduled"); all {
		return []queue.ListOption{queue.IncludeScheduled()}
	}
	return nil
}

func newListenCommand(with withFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen <tag>",
		Short: "Print and complete messages of a tag as they arrive",
		Long: `Print and complete messages of a tag as they arrive.

Runs until interrupted, or until --max messages were printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idle, _ := cmd.Flags().GetDuration("idle-timeout")
			limit, _ := cmd.Flags().GetInt("max")

			return with(cmd, func(b *backend) error {
				ctx := cmd.Context()
				s := b.queue.Listen(ctx, args[0], queue.WithIdleTimeout(idle))
				defer s.Close()

				for n := 0; limit <= 0 || n < limit; {
					d, err := s.Next(ctx)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					if d.Idle() {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "idle %s\n", idle)
						continue
					}
					if err := printJSON(cmd, d.Message()); err != nil {
						_ = d.Abandon(ctx)
						return err
					}
					if err := d.Complete(ctx); err != nil {
						return err
					}
					n++
				}
				return nil
			})
		},
	}
	cmd.Flags().Duration("idle-timeout", 0, "Report idleness after this long without a message")
	cmd.Flags().Int("max", 0, "Stop after this many messages")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

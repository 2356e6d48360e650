package cmds

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/supportchat/pkg/events"
)

func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect session lifecycle events",
	}
	cmd.AddCommand(newEventsTailCommand())
	return cmd
}

func newEventsTailCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow submission events published to Redis Streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if !s.Events.RedisEnabled {
				return errors.New("events tail reads from Redis Streams, pass --redis-enabled")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			transport, err := events.BuildTransport(s.Events, events.NewWatermillLogger(log.Logger))
			if err != nil {
				return err
			}
			defer func() {
				_ = transport.Close()
			}()
			if err := transport.EnsureGroupAtTail(ctx, events.Topic, s.Events.Group); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			return events.Consume(ctx, transport.Subscriber, events.Topic, func(e events.Event) error {
				if asJSON {
					b, err := json.Marshal(e)
					if err != nil {
						return errors.Wrap(err, "marshal event")
					}
					_, err = fmt.Fprintln(w, string(b))
					return err
				}
				_, err := fmt.Fprintln(w, formatEvent(e))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	return cmd
}

func formatEvent(e events.Event) string {
	line := fmt.Sprintf("%s %s %s", e.Timestamp.Format("15:04:05.000"), e.SessionID, e.Type)
	switch e.Type {
	case events.EventSubmissionStarted:
		line += fmt.Sprintf(" message=%q", e.Message)
	case events.EventSubmissionSucceeded:
		line += fmt.Sprintf(" route=%s duration=%dms", e.Route, e.DurationMs)
	case events.EventSubmissionFailed:
		line += fmt.Sprintf(" kind=%s status=%d error=%q duration=%dms", e.ErrorKind, e.StatusCode, e.Error, e.DurationMs)
	case events.EventSubmissionRejected:
		line += " reason=" + e.Reason
	}
	return line
}

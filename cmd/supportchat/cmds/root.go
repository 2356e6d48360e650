package cmds

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/config"
	"github.com/go-go-golems/supportchat/pkg/events"
	"github.com/go-go-golems/supportchat/pkg/session"
)

// Register adds all supportchat commands to root.
func Register(root *cobra.Command) {
	evalCmd, err := buildEvalCommands(root)
	cobra.CheckErr(err)
	root.AddCommand(
		NewChatCommand(),
		NewAskCommand(),
		NewHealthCommand(),
		evalCmd,
		NewEventsCommand(),
	)
}

func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	v := viper.GetViper()
	if err := config.Bind(v, cmd.Root()); err != nil {
		return config.Settings{}, err
	}
	return config.Load(v)
}

// sessionEnv is a controller wired to the assistant client and the event
// transport.
type sessionEnv struct {
	Client     *chatapi.Client
	Controller *session.Controller
	transport  *events.Transport
	stopTap    context.CancelFunc
}

// logEvent is the in-process consumer of lifecycle events when Redis is off.
func logEvent(e events.Event) {
	log.Debug().
		Str("session_id", e.SessionID).
		Str("event", string(e.Type)).
		Str("route", e.Route).
		Str("error_kind", e.ErrorKind).
		Int64("duration_ms", e.DurationMs).
		Msg("session event")
}

func newSessionEnv(ctx context.Context, s config.Settings) (*sessionEnv, error) {
	client, err := s.NewClient(chatapi.WithLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "create assistant client")
	}

	transport, err := events.BuildTransport(s.Events, events.NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "create event transport")
	}
	stopTap := func() {}
	if s.Events.RedisEnabled {
		if err := transport.EnsureGroupAtTail(ctx, events.Topic, s.Events.Group); err != nil {
			_ = transport.Close()
			return nil, err
		}
	} else {
		tapCtx, cancel := context.WithCancel(ctx)
		if err := events.Tap(tapCtx, transport.Subscriber, events.Topic, logEvent); err != nil {
			cancel()
			_ = transport.Close()
			return nil, err
		}
		stopTap = cancel
	}

	controller := session.NewController(client,
		session.WithEventSink(events.NewWatermillSink(transport.Publisher, events.Topic)),
	)
	log.Debug().
		Str("session_id", controller.SessionID()).
		Str("api_url", client.BaseURL()).
		Bool("redis", s.Events.RedisEnabled).
		Msg("session ready")

	return &sessionEnv{Client: client, Controller: controller, transport: transport, stopTap: stopTap}, nil
}

func (e *sessionEnv) Close() {
	e.stopTap()
	if err := e.transport.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event transport")
	}
}

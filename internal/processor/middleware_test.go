package processor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tabtree/internal/command"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/pubsub"
)

func okHandler() CommandHandler {
	return HandlerFunc(func(context.Context, command.Command) (*command.CommandResult, error) {
		return &command.CommandResult{Success: true}, nil
	})
}

func TestChainMiddleware_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next CommandHandler) CommandHandler {
			return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
				order = append(order, name)
				return next.Handle(ctx, cmd)
			})
		}
	}

	h := ChainMiddleware(okHandler(), mk("outer"), mk("inner"))
	_, err := h.Handle(context.Background(), command.NewAutoSaveCommand())
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestRecoveryMiddleware_ConvertsPanic(t *testing.T) {
	h := ChainMiddleware(HandlerFunc(func(context.Context, command.Command) (*command.CommandResult, error) {
		panic("nil map")
	}), NewRecoveryMiddleware())

	res, err := h.Handle(context.Background(), command.NewAutoSaveCommand())
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error.Error(), "nil map")
}

func TestLoggingMiddleware_LogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	log.InitWriter(&buf, log.LevelDebug)
	defer log.SetEnabled(false)

	failing := HandlerFunc(func(context.Context, command.Command) (*command.CommandResult, error) {
		return nil, errors.New("disk full")
	})
	_, _ = ChainMiddleware(failing, NewLoggingMiddleware()).Handle(context.Background(), command.NewAutoSaveCommand())
	_, _ = ChainMiddleware(okHandler(), NewLoggingMiddleware()).Handle(context.Background(), command.NewAutoSaveCommand())

	out := buf.String()
	require.Contains(t, out, "[ERROR] [cmd] command failed")
	require.Contains(t, out, "error=disk full")
	require.Contains(t, out, "[DEBUG] [cmd] command completed")
}

func TestCommandLogMiddleware_PublishesEvent(t *testing.T) {
	bus := pubsub.NewBroker[any]()
	defer bus.Close()
	ch := bus.Subscribe(context.Background())

	h := ChainMiddleware(okHandler(), NewCommandLogMiddleware(bus))
	cmd := command.NewAutoSaveCommand()
	_, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)

	ev := (<-ch).Payload.(CommandLogEvent)
	require.Equal(t, cmd.ID(), ev.CommandID)
	require.Equal(t, command.SourceTimer, ev.Source)
	require.True(t, ev.Success)
}

func TestCommandLogMiddleware_NilBusPassesThrough(t *testing.T) {
	h := ChainMiddleware(okHandler(), NewCommandLogMiddleware(nil))
	res, err := h.Handle(context.Background(), command.NewAutoSaveCommand())
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestSlowHandlerMiddleware_WarnsOnly(t *testing.T) {
	var buf bytes.Buffer
	log.InitWriter(&buf, log.LevelDebug)
	defer log.SetEnabled(false)

	slow := HandlerFunc(func(context.Context, command.Command) (*command.CommandResult, error) {
		time.Sleep(20 * time.Millisecond)
		return &command.CommandResult{Success: true}, nil
	})
	res, err := ChainMiddleware(slow, NewSlowHandlerMiddleware(5*time.Millisecond)).Handle(context.Background(), command.NewAutoSaveCommand())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, buf.String(), "handler exceeded time threshold")
}

package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zjrosen/tabtree/internal/command"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/pubsub"
)

// Middleware wraps a CommandHandler to add additional behavior.
type Middleware func(CommandHandler) CommandHandler

// ChainMiddleware applies middlewares so the first in the list is the
// outermost wrapper: ChainMiddleware(h, a, b) is a(b(h)).
func ChainMiddleware(handler CommandHandler, middlewares ...Middleware) CommandHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func traceIDOf(cmd command.Command) string {
	if t, ok := cmd.(interface{ TraceID() string }); ok {
		return t.TraceID()
	}
	return ""
}

func sourceOf(cmd command.Command) command.CommandSource {
	if s, ok := cmd.(interface{ Source() command.CommandSource }); ok {
		return s.Source()
	}
	return ""
}

// NewLoggingMiddleware logs every command outcome under the cmd category.
func NewLoggingMiddleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			switch {
			case err != nil:
				log.Error(log.CatCmd, "command failed",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"source", sourceOf(cmd),
					"error", err.Error(),
				)
			case result != nil && !result.Success:
				errMsg := ""
				if result.Error != nil {
					errMsg = result.Error.Error()
				}
				log.Warn(log.CatCmd, "command completed with error result",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"source", sourceOf(cmd),
					"error", errMsg,
				)
			default:
				log.Debug(log.CatCmd, "command completed",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"duration", duration,
					"source", sourceOf(cmd),
				)
			}
			return result, err
		})
	}
}

// NewRecoveryMiddleware turns a handler panic into a failed result so a
// single bad request cannot take the loop down.
func NewRecoveryMiddleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (result *command.CommandResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error(log.CatCmd, "handler panic",
						"command_id", cmd.ID(),
						"command_type", cmd.Type().String(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					result = &command.CommandResult{Success: false, Error: fmt.Errorf("internal error: %v", r)}
					err = nil
				}
			}()
			return next.Handle(ctx, cmd)
		})
	}
}

// NewCommandLogMiddleware publishes a CommandLogEvent for each processed
// command. A nil bus makes it a pass-through.
func NewCommandLogMiddleware(bus pubsub.Publisher[any]) Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			if bus == nil {
				return next.Handle(ctx, cmd)
			}

			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			ev := CommandLogEvent{
				CommandID:   cmd.ID(),
				CommandType: cmd.Type(),
				Source:      sourceOf(cmd),
				Success:     err == nil && (result == nil || result.Success),
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
				TraceID:     traceIDOf(cmd),
			}
			if err != nil {
				ev.Error = err
			} else if result != nil {
				ev.Error = result.Error
			}
			bus.Publish(pubsub.CommandLoggedEvent, ev)

			return result, err
		})
	}
}

// DefaultSlowThreshold is the default threshold for slow handler warnings.
const DefaultSlowThreshold = 100 * time.Millisecond

// NewSlowHandlerMiddleware warns when a handler runs past threshold. It never
// aborts the handler; an interrupted mutation would leave the tree half
// applied.
func NewSlowHandlerMiddleware(threshold time.Duration) Middleware {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			if d := time.Since(start); d > threshold {
				log.Warn(log.CatCmd, "handler exceeded time threshold",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", d,
					"threshold", threshold,
				)
			}
			return result, err
		})
	}
}

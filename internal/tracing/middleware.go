package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tabtree/internal/command"
	"github.com/zjrosen/tabtree/internal/processor"
)

// Span names and attribute keys.
const (
	SpanPrefixCommand = "command.process."

	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"
	AttrHostEventKind = "host.event.kind"
	AttrHostTabID     = "host.tab.id"
	AttrHostWindowID  = "host.window.id"

	EventFollowUpCreated = "follow_up.created"
)

// NewMiddleware opens one span per command. The span context is stored on
// the command so log lines carry its trace id, and is handed to follow-up
// commands so they become children. A nil tracer passes through.
func NewMiddleware(tracer trace.Tracer) processor.Middleware {
	if tracer == nil {
		return func(next processor.CommandHandler) processor.CommandHandler { return next }
	}

	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			ctx = restoreSpanContext(ctx, cmd)
			ctx, span := tracer.Start(ctx, SpanPrefixCommand+string(cmd.Type()), trace.WithSpanKind(trace.SpanKindInternal))
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrCommandID, cmd.ID()),
				attribute.String(AttrCommandType, string(cmd.Type())),
			)
			if src, ok := cmd.(interface{ Source() command.CommandSource }); ok {
				span.SetAttributes(attribute.String(AttrCommandSource, string(src.Source())))
			}
			if hc, ok := cmd.(*command.HostEventCommand); ok {
				span.SetAttributes(
					attribute.String(AttrHostEventKind, string(hc.Event.Kind)),
					attribute.Int(AttrHostTabID, int(hc.Event.TabID)),
					attribute.Int(AttrHostWindowID, int(hc.Event.WindowID)),
				)
			}
			if setter, ok := cmd.(interface{ SetSpanContext(trace.SpanContext) }); ok {
				setter.SetSpanContext(span.SpanContext())
			}

			result, err := next.Handle(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && !result.Success:
				if result.Error != nil {
					span.RecordError(result.Error)
					span.SetStatus(codes.Error, result.Error.Error())
				} else {
					span.SetStatus(codes.Error, "command failed without error details")
				}
			default:
				span.SetStatus(codes.Ok, "")
			}

			if result != nil {
				for _, followUp := range result.FollowUp {
					span.AddEvent(EventFollowUpCreated, trace.WithAttributes(
						attribute.String(AttrCommandType, string(followUp.Type())),
						attribute.String(AttrCommandID, followUp.ID()),
					))
					if setter, ok := followUp.(interface{ SetSpanContext(trace.SpanContext) }); ok {
						setter.SetSpanContext(span.SpanContext())
					}
				}
			}
			return result, err
		})
	}
}

// restoreSpanContext parents the new span on the one a follow-up command
// carries.
func restoreSpanContext(ctx context.Context, cmd command.Command) context.Context {
	if c, ok := cmd.(interface{ SpanContext() trace.SpanContext }); ok {
		if sc := c.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}

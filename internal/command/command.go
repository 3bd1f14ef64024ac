// Package command defines the commands that enter the engine's single FIFO
// loop: host events, inbound RPC requests and timer ticks.
package command

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Command represents an explicit intent entering the processor.
type Command interface {
	// ID returns unique command identifier for tracing/correlation
	ID() string
	// Type returns the command type for routing to handlers
	Type() CommandType
	// Validate checks command preconditions before execution
	Validate() error
	// CreatedAt returns when command was created
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
type CommandType string

const (
	// CmdHostEvent applies one host tab/window event.
	CmdHostEvent CommandType = "host_event"
	// CmdRPC serves one inbound request.
	CmdRPC CommandType = "rpc"
	// CmdAutoSave takes a periodic auto-save snapshot.
	CmdAutoSave CommandType = "auto_save"
	// CmdReloadSettings applies engine settings re-read from the config file.
	CmdReloadSettings CommandType = "reload_settings"
)

// String returns the string representation of the CommandType.
func (ct CommandType) String() string {
	return string(ct)
}

// CommandSource identifies where the command originated.
type CommandSource string

const (
	SourceHost     CommandSource = "host"
	SourceRPC      CommandSource = "rpc"
	SourceTimer    CommandSource = "timer"
	SourceInternal CommandSource = "internal"
)

// String returns the string representation of the CommandSource.
func (cs CommandSource) String() string {
	return string(cs)
}

// BaseCommand provides common fields for all commands.
// Concrete command types should embed this struct.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	createdAt   time.Time
	source      CommandSource
	traceID     string
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated UUID and current timestamp.
func NewBaseCommand(cmdType CommandType, source CommandSource) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

func (b *BaseCommand) ID() string { return b.id }

func (b *BaseCommand) Type() CommandType { return b.cmdType }

func (b *BaseCommand) CreatedAt() time.Time { return b.createdAt }

func (b *BaseCommand) Source() CommandSource { return b.source }

// TraceID prefers the span context's trace id over a manually set one.
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return b.traceID
}

// SetTraceID sets a correlation id received as a string, e.g. from a
// request header.
func (b *BaseCommand) SetTraceID(traceID string) {
	b.traceID = traceID
}

func (b *BaseCommand) SpanContext() trace.SpanContext { return b.spanContext }

func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) {
	b.spanContext = sc
}

// Validate is a no-op for BaseCommand. Concrete commands should override this.
func (b *BaseCommand) Validate() error {
	return nil
}

// CommandResult contains the outcome of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool
	// Events contains events to publish on the processor's bus.
	Events []any
	// FollowUp contains commands to enqueue after the current one.
	FollowUp []Command
	// Error contains the error if Success is false.
	Error error
	// Data contains optional result data for the caller.
	Data any
}

// ErrQueueFull is returned when the command queue has reached capacity.
var ErrQueueFull = errors.New("command queue is full")

// ErrInvalidCommand is returned by Validate for malformed commands.
var ErrInvalidCommand = errors.New("invalid command")

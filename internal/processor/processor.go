// Package processor runs the engine's single-threaded FIFO loop. Host events,
// inbound requests and timer ticks are all submitted as commands and handled
// one at a time, in arrival order.
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/tabtree/internal/command"
	"github.com/zjrosen/tabtree/internal/pubsub"
)

// DefaultQueueCapacity is the default buffer size for the command queue.
const DefaultQueueCapacity = 1000

var (
	// ErrUnknownCommandType is returned when no handler is registered for a command type.
	ErrUnknownCommandType = errors.New("unknown command type")
	// ErrProcessorNotRunning is returned when submitting to a stopped processor.
	ErrProcessorNotRunning = errors.New("processor is not running")
)

// CommandHandler handles one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd command.Command) (*command.CommandResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	return f(ctx, cmd)
}

// Option configures the CommandProcessor.
type Option func(*CommandProcessor)

// WithQueueCapacity sets the command queue buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(p *CommandProcessor) {
		p.queueCapacity = capacity
	}
}

// WithEventBus sets the bus that receives result events and failures.
func WithEventBus(bus *pubsub.Broker[any]) Option {
	return func(p *CommandProcessor) {
		p.eventBus = bus
	}
}

// WithMiddleware adds middleware to be applied to all handlers.
// Middleware is applied in order: first middleware wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(p *CommandProcessor) {
		p.middlewares = append(p.middlewares, middlewares...)
	}
}

// CommandProcessor processes commands sequentially in FIFO order.
type CommandProcessor struct {
	queue         chan queueItem
	queueCapacity int

	handlers    map[command.CommandType]CommandHandler
	middlewares []Middleware
	eventBus    *pubsub.Broker[any]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Bool
	started  atomic.Bool
	readyCh  chan struct{}
	readyMu  sync.Mutex
	readySet bool

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

// queueItem wraps a command with an optional result channel for SubmitAndWait.
type queueItem struct {
	cmd      command.Command
	resultCh chan *command.CommandResult // nil for fire-and-forget Submit
}

// NewCommandProcessor creates a new CommandProcessor with the given options.
func NewCommandProcessor(opts ...Option) *CommandProcessor {
	p := &CommandProcessor{
		queueCapacity: DefaultQueueCapacity,
		handlers:      make(map[command.CommandType]CommandHandler),
		readyCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterHandler registers a handler for a command type, wrapped with all
// configured middleware. Must be called before Run.
func (p *CommandProcessor) RegisterHandler(cmdType command.CommandType, handler CommandHandler) {
	p.handlers[cmdType] = ChainMiddleware(handler, p.middlewares...)
}

// Run starts the command processing loop and blocks until ctx is cancelled,
// Stop is called, or Drain empties the queue. Only the first call runs.
func (p *CommandProcessor) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.queue = make(chan queueItem, p.queueCapacity)

	// Add before running is visible so Drain can always Wait on it.
	p.wg.Add(1)
	p.running.Store(true)

	p.readyMu.Lock()
	if !p.readySet {
		close(p.readyCh)
		p.readySet = true
	}
	p.readyMu.Unlock()

	defer func() {
		p.running.Store(false)
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.processItem(item)
		}
	}
}

// WaitForReady blocks until the processor accepts commands or ctx ends.
func (p *CommandProcessor) WaitForReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues a command without waiting. Returns ErrQueueFull when the
// queue is at capacity and ErrProcessorNotRunning before Run.
func (p *CommandProcessor) Submit(cmd command.Command) error {
	if !p.running.Load() {
		return ErrProcessorNotRunning
	}
	select {
	case p.queue <- queueItem{cmd: cmd}:
		return nil
	default:
		return command.ErrQueueFull
	}
}

// SubmitAndWait queues a command, waiting for queue space, and returns its
// result.
func (p *CommandProcessor) SubmitAndWait(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	if !p.running.Load() {
		return nil, ErrProcessorNotRunning
	}

	resultCh := make(chan *command.CommandResult, 1)
	select {
	case p.queue <- queueItem{cmd: cmd, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrProcessorNotRunning
	}

	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, context.Canceled
	}
}

// Stop cancels the loop and waits for it. Queued commands are not processed.
func (p *CommandProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain stops accepting commands, processes what is queued and returns
// once the loop exits.
func (p *CommandProcessor) Drain() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// IsRunning returns true if the processor is currently accepting commands.
func (p *CommandProcessor) IsRunning() bool {
	return p.running.Load()
}

// ProcessedCount returns the total number of commands processed.
func (p *CommandProcessor) ProcessedCount() int64 {
	return p.processedCount.Load()
}

// ErrorCount returns the total number of commands that resulted in errors.
func (p *CommandProcessor) ErrorCount() int64 {
	return p.errorCount.Load()
}

// QueueLength returns the current number of pending commands.
func (p *CommandProcessor) QueueLength() int {
	if p.queue == nil {
		return 0
	}
	return len(p.queue)
}

func (p *CommandProcessor) processItem(item queueItem) {
	result := p.processCommand(item.cmd)

	p.processedCount.Add(1)
	if !result.Success {
		p.errorCount.Add(1)
	}

	if item.resultCh != nil {
		item.resultCh <- result
		close(item.resultCh)
	}
}

// processCommand validates, routes, handles, then publishes events and
// queues follow-ups. Errors end up inside the result.
func (p *CommandProcessor) processCommand(cmd command.Command) *command.CommandResult {
	if err := cmd.Validate(); err != nil {
		p.emitError(cmd, err)
		return &command.CommandResult{Success: false, Error: err}
	}

	handler, ok := p.handlers[cmd.Type()]
	if !ok {
		p.emitError(cmd, ErrUnknownCommandType)
		return &command.CommandResult{Success: false, Error: ErrUnknownCommandType}
	}

	result, err := handler.Handle(p.ctx, cmd)
	if err != nil {
		p.emitError(cmd, err)
		return &command.CommandResult{Success: false, Error: err}
	}
	if result == nil {
		result = &command.CommandResult{Success: true}
	}

	if p.eventBus != nil {
		for _, ev := range result.Events {
			p.eventBus.Publish(pubsub.CommandResultEvent, ev)
		}
	}

	for _, followUp := range result.FollowUp {
		if !p.running.Load() {
			p.emitError(followUp, ErrProcessorNotRunning)
			continue
		}
		// non-blocking: the loop must never wait on its own queue
		select {
		case p.queue <- queueItem{cmd: followUp}:
		default:
			p.emitError(followUp, command.ErrQueueFull)
		}
	}

	return result
}

func (p *CommandProcessor) emitError(cmd command.Command, err error) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(pubsub.CommandFailedEvent, CommandErrorEvent{
		CommandID:   cmd.ID(),
		CommandType: cmd.Type(),
		Error:       err,
	})
}

package simulator

import (
	"context"
	"runtime"
)

// CommandSource provides commands for one core.
type CommandSource[T any] interface {
	// NextCommand returns false once the source is exhausted.
	NextCommand() (T, bool)
}

// CommandHandler consumes commands and determines whether processing should continue.
type CommandHandler[T any] interface {
	HandleCommand(context.Context, T) bool
}

// CommandHandlerFunc adapts a function into a CommandHandler.
type CommandHandlerFunc[T any] func(context.Context, T) bool

// HandleCommand calls the underlying function.
func (f CommandHandlerFunc[T]) HandleCommand(ctx context.Context, cmd T) bool {
	if f == nil {
		return true
	}
	return f(ctx, cmd)
}

// CommandLoop drains and dispatches commands.
type CommandLoop[T any] struct {
	source  CommandSource[T]
	handler CommandHandler[T]
}

// NewCommandLoop creates a command loop with the given source and handler.
func NewCommandLoop[T any](source CommandSource[T], handler CommandHandler[T]) *CommandLoop[T] {
	return &CommandLoop[T]{
		source:  source,
		handler: handler,
	}
}

// DrainPending pulls commands until the source is exhausted or ctx is
// done, yielding between commands. It returns false if the handler asked
// to stop.
func (c *CommandLoop[T]) DrainPending(ctx context.Context) bool {
	if c == nil || c.handler == nil || c.source == nil {
		return true
	}
	for ctx.Err() == nil {
		cmd, ok := c.source.NextCommand()
		if !ok {
			return true
		}
		if !c.handler.HandleCommand(ctx, cmd) {
			return false
		}
		runtime.Gosched()
	}
	return true
}

package ws

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler processes a decoded inbound event.
type Handler func(context.Context, *Event) error

// Router dispatches inbound events to registered handlers. Events with no
// handler are logged and dropped; a panicking handler does not take the
// dispatch loop down.
type Router struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]Handler),
		logger:   logger.With(slog.String("component", "ws.router")),
	}
}

// On registers a handler for an event type. Registering the same type twice
// is a programming error.
func (r *Router) On(eventType string, h Handler) {
	if _, ok := r.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already exists", eventType))
	}
	r.handlers[eventType] = h
}

// Listen consumes events from in until the channel is closed or the context
// is cancelled. Handlers run synchronously, so registry mutations happen in
// transport-delivery order.
func (r *Router) Listen(ctx context.Context, in <-chan *Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			r.dispatch(ctx, e)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, e *Event) {
	h, ok := r.handlers[e.Type]
	if !ok {
		r.logger.Debug(fmt.Sprintf("no handler for %s", e.Type))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(fmt.Sprintf("handler(%s): panic: %v", e.Type, rec))
		}
	}()
	if err := h(ctx, e); err != nil {
		r.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}

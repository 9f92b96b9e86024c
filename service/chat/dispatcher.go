package chat

import (
	"context"
	"errors"
	"fmt"

	"fieldgate/module/model"
	"fieldgate/tools/decode"
	"fieldgate/tools/errs"

	"go.uber.org/zap"
)

// Handler serves one inbound event name.
type Handler interface {
	Event() string
	Allowed(kind model.Kind) bool
	Handle(ctx context.Context, c *Client, f model.Frame) error
}

type handlerFunc struct {
	event string
	kinds map[model.Kind]struct{}
	fn    func(ctx context.Context, c *Client, f model.Frame) error
}

func (h *handlerFunc) Event() string { return h.event }

func (h *handlerFunc) Allowed(kind model.Kind) bool {
	if len(h.kinds) == 0 {
		return true
	}
	_, ok := h.kinds[kind]
	return ok
}

func (h *handlerFunc) Handle(ctx context.Context, c *Client, f model.Frame) error {
	return h.fn(ctx, c, f)
}

// On builds a Handler whose payload is decoded into T before fn runs.
// No kinds means any authenticated subject.
func On[T any](event string, fn func(ctx context.Context, c *Client, f model.Frame, cmd *T) error, kinds ...model.Kind) Handler {
	h := &handlerFunc{event: event, kinds: make(map[model.Kind]struct{}, len(kinds))}
	for _, k := range kinds {
		h.kinds[k] = struct{}{}
	}
	h.fn = func(ctx context.Context, c *Client, f model.Frame) error {
		cmd, err := decode.DecodeRaw[T](f.Data)
		if err != nil {
			return errs.ErrBadRequest.WrapMsg(err.Error())
		}
		return fn(ctx, c, f, cmd)
	}
	return h
}

// Dispatcher routes typed inbound frames. Registration happens before the
// server starts; Dispatch is read-only afterwards.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		if _, dup := d.handlers[h.Event()]; dup {
			panic(fmt.Sprintf("chat: handler for %q registered twice", h.Event()))
		}
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) GetHandler(event string) Handler {
	return d.handlers[event]
}

// Dispatch runs the handler for f and turns any failure into an `error`
// event on the requesting connection. Nothing is broadcast on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, f model.Frame) {
	h := d.handlers[f.Event]
	var err error
	switch {
	case h == nil:
		err = errs.ErrUnknownEvent.WithDetail(f.Event)
	case !h.Allowed(c.who.Kind):
		err = errs.ErrForbidden.WithDetail(f.Event)
	default:
		err = h.Handle(ctx, c, f)
	}
	if err == nil {
		return
	}
	d.replyError(c, f, err)
}

// eventer is implemented by errors that carry a state event for the client,
// e.g. the current lock holder on a rejected send.
type eventer interface {
	Event() model.Event
}

func (d *Dispatcher) replyError(c *Client, f model.Frame, err error) {
	code, msg := errs.CodeServerInternal, errs.ErrServerInternal.Msg
	if ce, ok := errs.As(err); ok {
		code, msg = ce.Code, ce.Msg
	} else if errors.Is(err, &errs.ErrConversationLocked) {
		code, msg = errs.CodeConversationLocked, errs.ErrConversationLocked.Msg
	}
	if code >= errs.CodeServerInternal {
		c.log.Error("[WS] handler failed", zap.String("event", f.Event), zap.Error(err))
	} else {
		c.log.Info("[WS] request rejected", zap.String("event", f.Event), zap.Error(err))
	}
	_ = c.Reply(model.Event{
		Name: model.EvError,
		Data: model.ErrorPayload{Message: msg, Code: code, Event: f.Event, Ack: f.Ack},
		Ack:  f.Ack,
	})

	var ev eventer
	if errors.As(err, &ev) {
		_ = c.Reply(ev.Event())
	}
}

// Ack replies to the requesting connection, echoing the frame's ack id.
func Ack(c *Client, f model.Frame, name string, data any) error {
	return c.Reply(model.Event{Name: name, Data: data, Ack: f.Ack})
}

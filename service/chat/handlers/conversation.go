package handlers

import (
	"context"

	chatmod "fieldgate/module/chat"
	"fieldgate/module/model"
	"fieldgate/service/chat"
)

// ConversationSet carries the chat events; every connection gets it.
type ConversationSet struct {
	svc *chatmod.Service
}

func NewConversationSet(svc *chatmod.Service) *ConversationSet {
	return &ConversationSet{svc: svc}
}

func (h *ConversationSet) OnConnect(context.Context, *chat.Client) error { return nil }

func (h *ConversationSet) Register(d *chat.Dispatcher) {
	d.Register(
		chat.On(model.InSendMessage, h.send),
		chat.On(model.InMarkRead, h.markRead),
		chat.On(model.InTyping, h.typing),
	)
}

func (h *ConversationSet) send(ctx context.Context, c *chat.Client, f model.Frame, cmd *chatmod.SendCommand) error {
	msg, err := h.svc.SendMessage(ctx, c.Identity(), *cmd)
	if err != nil {
		return err
	}
	return chat.Ack(c, f, model.EvMessageAccepted, msg)
}

func (h *ConversationSet) markRead(ctx context.Context, c *chat.Client, f model.Frame, cmd *chatmod.MarkReadCommand) error {
	_, err := h.svc.MarkRead(ctx, c.Identity(), *cmd)
	return err
}

func (h *ConversationSet) typing(ctx context.Context, c *chat.Client, _ model.Frame, cmd *chatmod.TypingCommand) error {
	return h.svc.Typing(ctx, c.Identity(), c.ConnID, *cmd)
}

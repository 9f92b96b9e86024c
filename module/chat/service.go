package chat

import (
	"context"
	"strings"
	"time"

	"fieldgate/logger"
	"fieldgate/module/identity"
	"fieldgate/module/model"
	"fieldgate/service/storage"
	"fieldgate/tools/errs"
	"fieldgate/tools/ids"

	"go.uber.org/zap"
)

// MessageRepo is the durable chat store.
type MessageRepo interface {
	InsertMessage(ctx context.Context, m *model.ChatMessage) error
	// MarkRead sets read_at on the given messages of one conversation. Messages
	// already read keep their original timestamp.
	MarkRead(ctx context.Context, workerID string, messageIDs []string, at time.Time) error
	// History returns up to limit messages, newest first.
	History(ctx context.Context, workerID string, limit int) ([]model.ChatMessage, error)
}

type Config struct {
	LockTTL        time.Duration
	MaxAttachments int
	HistoryLimit   int
}

func (c *Config) norm() {
	if c.LockTTL <= 0 {
		c.LockTTL = 120 * time.Second
	}
	if c.MaxAttachments <= 0 {
		c.MaxAttachments = 4
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
}

type SendCommand struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
	TargetID    string   `json:"targetId"`
}

type MarkReadCommand struct {
	MessageIDs []string `json:"messageIds"`
	TargetID   string   `json:"targetId"`
}

type TypingCommand struct {
	IsTyping bool   `json:"isTyping"`
	TargetID string `json:"targetId"`
}

// Service owns the chat write paths. Every broadcast goes through emit; the
// conversation lock lives only in the coordination store.
type Service struct {
	conf        Config
	repo        MessageRepo
	coord       *storage.Coord
	attachments *AttachmentResolver
	emit        model.Emitter
	ids         *ids.Generator
	now         func() time.Time
}

func NewService(conf Config, repo MessageRepo, coord *storage.Coord, attachments *AttachmentResolver, emit model.Emitter, gen *ids.Generator) *Service {
	conf.norm()
	if gen == nil {
		gen = ids.NewGenerator(1)
	}
	return &Service{
		conf:        conf,
		repo:        repo,
		coord:       coord,
		attachments: attachments,
		emit:        emit,
		ids:         gen,
		now:         time.Now,
	}
}

// conversation resolves whose conversation an action targets. Workers always
// act on their own; operators must name one.
func conversation(who *identity.Identity, targetID string) (string, error) {
	if who.IsWorker() {
		return who.ID, nil
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return "", errs.ErrBadRequest.WithDetail("targetId required")
	}
	return targetID, nil
}

func senderOf(who *identity.Identity) model.Sender {
	if who.IsWorker() {
		return model.SenderWorker
	}
	return model.SenderOperator
}

func conversationGroups(workerID string) model.Target {
	return model.To(model.GroupAllOperators, model.WorkerGroup(workerID))
}

// SendMessage validates, claims the lock for operators, persists, and only
// then broadcasts. Any rejection leaves storage untouched.
func (s *Service) SendMessage(ctx context.Context, who *identity.Identity, cmd SendCommand) (*model.ChatMessage, error) {
	// 1) validate before touching the lock or the store
	content := strings.TrimSpace(cmd.Content)
	if len(cmd.Attachments) > s.conf.MaxAttachments {
		return nil, errs.ErrTooManyAttachments.WrapMsg("", "max", s.conf.MaxAttachments, "got", len(cmd.Attachments))
	}
	if content == "" && len(cmd.Attachments) == 0 {
		return nil, errs.ErrBadRequest.WithDetail("empty message")
	}
	workerID, err := conversation(who, cmd.TargetID)
	if err != nil {
		return nil, err
	}

	// 2) operators must hold the conversation
	var fresh *model.ConversationLocked
	if who.IsOperator() {
		if fresh, err = s.claim(ctx, workerID, who.ID); err != nil {
			return nil, err
		}
	}

	// 3) persist
	msg := &model.ChatMessage{
		ID:          s.ids.NextString(),
		WorkerID:    workerID,
		Sender:      senderOf(who),
		SenderName:  who.DisplayName,
		Content:     content,
		Attachments: append([]string{}, cmd.Attachments...),
		CreatedAt:   s.now().UTC(),
	}
	if who.IsOperator() {
		msg.OperatorID = who.ID
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		logger.Error("[chat] insert message failed", zap.String("worker", workerID), zap.Error(err))
		if fresh != nil {
			s.unclaim(ctx, workerID, who.ID)
		}
		return nil, errs.ErrUpstreamUnavailable.WrapMsg("insert message", "workerId", workerID)
	}

	// 4) enrich and broadcast; the lock is announced only once the message exists
	s.announceLock(ctx, fresh)
	if s.attachments != nil {
		msg.AttachmentURLs = s.attachments.Resolve(ctx, msg.Attachments)
	}
	s.emit.Emit(ctx, conversationGroups(workerID), model.NewEvent(model.EvNewMessage, msg))
	return msg, nil
}

// MarkRead is idempotent: repeating it changes nothing but re-announces the receipt.
func (s *Service) MarkRead(ctx context.Context, who *identity.Identity, cmd MarkReadCommand) (*model.ReadReceipt, error) {
	workerID, err := conversation(who, cmd.TargetID)
	if err != nil {
		return nil, err
	}
	msgIDs := make([]string, 0, len(cmd.MessageIDs))
	for _, id := range cmd.MessageIDs {
		if id = strings.TrimSpace(id); id != "" {
			msgIDs = append(msgIDs, id)
		}
	}
	if len(msgIDs) == 0 {
		return nil, errs.ErrBadRequest.WithDetail("messageIds required")
	}

	now := s.now().UTC()
	if err := s.repo.MarkRead(ctx, workerID, msgIDs, now); err != nil {
		logger.Error("[chat] mark read failed", zap.String("worker", workerID), zap.Error(err))
		return nil, errs.ErrUpstreamUnavailable.WrapMsg("mark read", "workerId", workerID)
	}

	receipt := &model.ReadReceipt{
		WorkerID:   workerID,
		MessageIDs: msgIDs,
		ReadBy:     who.ID,
		ReaderKind: who.Kind,
		ReadAt:     now,
	}
	s.emit.Emit(ctx, conversationGroups(workerID), model.NewEvent(model.EvMessagesRead, receipt))
	return receipt, nil
}

// Typing relays the signal to everyone on the conversation except the sending
// connection. An operator who starts typing claims or extends the lock first.
func (s *Service) Typing(ctx context.Context, who *identity.Identity, connID string, cmd TypingCommand) error {
	workerID, err := conversation(who, cmd.TargetID)
	if err != nil {
		return err
	}
	if who.IsOperator() && cmd.IsTyping {
		fresh, err := s.claim(ctx, workerID, who.ID)
		if err != nil {
			return err
		}
		s.announceLock(ctx, fresh)
	}

	target := conversationGroups(workerID)
	target.ExceptConn = connID
	s.emit.Emit(ctx, target, model.NewEvent(model.EvTyping, model.Typing{
		WorkerID:   workerID,
		IsTyping:   cmd.IsTyping,
		SenderKind: who.Kind,
		SenderID:   who.ID,
		SenderName: who.DisplayName,
	}))
	return nil
}

// History reads a conversation with attachment URLs resolved. Read path: a
// store failure is returned to the caller, never broadcast.
func (s *Service) History(ctx context.Context, workerID string, limit int) ([]model.ChatMessage, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, errs.ErrBadRequest.WithDetail("workerId required")
	}
	if limit <= 0 || limit > s.conf.HistoryLimit {
		limit = s.conf.HistoryLimit
	}
	msgs, err := s.repo.History(ctx, workerID, limit)
	if err != nil {
		return nil, errs.ErrUpstreamUnavailable.WrapMsg("history", "workerId", workerID)
	}
	if s.attachments != nil {
		for i := range msgs {
			msgs[i].AttachmentURLs = s.attachments.Resolve(ctx, msgs[i].Attachments)
		}
	}
	return msgs, nil
}

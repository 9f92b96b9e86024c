package chat

import (
	"context"
	"fmt"
	"time"

	"fieldgate/logger"
	"fieldgate/module/model"
	"fieldgate/service/storage"
	"fieldgate/tools/errs"

	"go.uber.org/zap"
)

func LockKey(workerID string) string { return "chat:lock:" + workerID }

// LockedError is returned when another operator holds the conversation.
// It matches errs.ErrConversationLocked under errors.Is.
type LockedError struct {
	WorkerID  string
	Holder    string
	ExpiresAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("conversation %s locked by %s until %s", e.WorkerID, e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return errs.ErrConversationLocked.Is(target)
}

func (e *LockedError) Event() model.Event {
	return model.NewEvent(model.EvConvLocked, model.ConversationLocked{
		WorkerID:  e.WorkerID,
		LockedBy:  e.Holder,
		ExpiresAt: e.ExpiresAt,
	})
}

// claim takes or extends operatorID's hold on the conversation. It returns
// the announcement for a fresh acquisition, nil for a refresh; the caller
// decides when to publish it.
func (s *Service) claim(ctx context.Context, workerID, operatorID string) (*model.ConversationLocked, error) {
	res, err := s.coord.AcquireOrRefresh(ctx, LockKey(workerID), operatorID, s.conf.LockTTL)
	if err != nil {
		return nil, errs.ErrUpstreamUnavailable.WrapMsg("conversation lock", "workerId", workerID, "err", err)
	}
	expires := s.now().Add(res.TTL)

	switch res.State {
	case storage.LockHeldByOther:
		return nil, &LockedError{WorkerID: workerID, Holder: res.Holder, ExpiresAt: expires}
	case storage.LockAcquired:
		return &model.ConversationLocked{WorkerID: workerID, LockedBy: operatorID, ExpiresAt: expires}, nil
	}
	return nil, nil
}

func (s *Service) announceLock(ctx context.Context, l *model.ConversationLocked) {
	if l == nil {
		return
	}
	s.emit.Emit(ctx, model.To(model.GroupAllOperators), model.NewEvent(model.EvConvLocked, *l))
}

// unclaim gives back a lock taken for a send that never persisted, so the
// next attempt acquires and announces it afresh.
func (s *Service) unclaim(ctx context.Context, workerID, operatorID string) {
	if _, err := s.coord.ReleaseLock(ctx, LockKey(workerID), operatorID); err != nil {
		logger.Warn("[chat] release lock failed", zap.String("worker", workerID), zap.String("operator", operatorID), zap.Error(err))
	}
}

// LockHolder reports who holds the conversation, "" when it is free.
func (s *Service) LockHolder(ctx context.Context, workerID string) (string, time.Duration, error) {
	return s.coord.LockHolder(ctx, LockKey(workerID))
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"fieldgate/module/identity"
	"fieldgate/module/model"
	"fieldgate/service/storage"
	"fieldgate/tools/errs"
	"fieldgate/tools/ids"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	msgs map[string]*model.ChatMessage
	fail error
}

func newMemRepo() *memRepo { return &memRepo{msgs: map[string]*model.ChatMessage{}} }

func (r *memRepo) InsertMessage(_ context.Context, m *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	cp := *m
	r.msgs[m.ID] = &cp
	return nil
}

func (r *memRepo) MarkRead(_ context.Context, workerID string, msgIDs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range msgIDs {
		if m, ok := r.msgs[id]; ok && m.WorkerID == workerID && m.ReadAt == nil {
			t := at
			m.ReadAt = &t
		}
	}
	return nil
}

func (r *memRepo) History(_ context.Context, workerID string, limit int) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ChatMessage
	for _, m := range r.msgs {
		if m.WorkerID == workerID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type emitted struct {
	target model.Target
	event  model.Event
}

type recordingEmitter struct {
	mu  sync.Mutex
	out []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, t model.Target, ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = append(e.out, emitted{target: t, event: ev})
}

func (e *recordingEmitter) named(name string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, x := range e.out {
		if x.event.Name == name {
			out = append(out, x)
		}
	}
	return out
}

type countingResolver struct{ calls int }

func (c *countingResolver) ResolveDownloadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	c.calls++
	if key == "broken" {
		return "", errors.New("no such object")
	}
	return fmt.Sprintf("https://files.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	emit     *recordingEmitter
	mr       *miniredis.Miniredis
	resolver *countingResolver
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	coord := storage.NewCoord(rdb)

	f := &fixture{
		repo:     newMemRepo(),
		emit:     &recordingEmitter{},
		mr:       mr,
		resolver: &countingResolver{},
		clock:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	att := NewAttachmentResolver(f.resolver, coord, 15*time.Minute, 5*time.Minute)
	f.svc = NewService(Config{}, f.repo, coord, att, f.emit, ids.NewGenerator(3))
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// advance moves both the service clock and the store's TTL clock.
func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
	f.mr.FastForward(d)
}

func (f *fixture) holder(t *testing.T, workerID string) string {
	t.Helper()
	h, _, err := f.svc.LockHolder(context.Background(), workerID)
	require.NoError(t, err)
	return h
}

var (
	opA    = &identity.Identity{ID: "opA", Kind: model.KindOperator, DisplayName: "Ana"}
	opB    = &identity.Identity{ID: "opB", Kind: model.KindOperator, DisplayName: "Ben"}
	worker = &identity.Identity{ID: "w1", Kind: model.KindWorker, DisplayName: "Wes"}
)

func TestLockContentionWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "hello", TargetID: "w1"})
	require.NoError(t, err)

	f.advance(30 * time.Second)
	_, err = f.svc.SendMessage(ctx, opB, SendCommand{Content: "me too", TargetID: "w1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, &errs.ErrConversationLocked)

	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "opA", locked.Holder)
	assert.Equal(t, model.EvConvLocked, locked.Event().Name)

	assert.Equal(t, 1, f.repo.count())
	assert.Len(t, f.emit.named(model.EvNewMessage), 1)
	assert.Equal(t, "opA", f.holder(t, "w1"))
}

func TestLockAnnouncedOnFreshAcquireOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "x", TargetID: "w1"})
		require.NoError(t, err)
	}
	locks := f.emit.named(model.EvConvLocked)
	require.Len(t, locks, 1)
	assert.Equal(t, []string{model.GroupAllOperators}, locks[0].target.Groups)
	payload := locks[0].event.Data.(model.ConversationLocked)
	assert.Equal(t, "opA", payload.LockedBy)
	assert.Equal(t, f.clock.Add(120*time.Second), payload.ExpiresAt)
}

func TestLockExpiryFreesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "hello", TargetID: "w1"})
	require.NoError(t, err)

	f.advance(121 * time.Second)
	assert.Equal(t, "", f.holder(t, "w1"))

	_, err = f.svc.SendMessage(ctx, opB, SendCommand{Content: "taking over", TargetID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, "opB", f.holder(t, "w1"))
	assert.Equal(t, 2, f.repo.count())
}

func TestTypingKeepsLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Typing(ctx, opA, "connA", TypingCommand{IsTyping: true, TargetID: "w1"}))
	for i := 0; i < 4; i++ {
		f.advance(60 * time.Second)
		assert.Equal(t, "opA", f.holder(t, "w1"), "round %d", i)

		err := f.svc.Typing(ctx, opB, "connB", TypingCommand{IsTyping: true, TargetID: "w1"})
		assert.ErrorIs(t, err, &errs.ErrConversationLocked)

		require.NoError(t, f.svc.Typing(ctx, opA, "connA", TypingCommand{IsTyping: true, TargetID: "w1"}))
	}
	// 240s after the first keystroke the lock is still A's
	assert.Equal(t, "opA", f.holder(t, "w1"))
}

func TestTypingExcludesOriginAndSkipsLockForWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Typing(ctx, worker, "connW", TypingCommand{IsTyping: true, TargetID: "ignored"}))
	typing := f.emit.named(model.EvTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "connW", typing[0].target.ExceptConn)
	assert.ElementsMatch(t, []string{model.GroupAllOperators, "worker:w1"}, typing[0].target.Groups)
	assert.Equal(t, "w1", typing[0].event.Data.(model.Typing).WorkerID)
	assert.Equal(t, "", f.holder(t, "w1"))

	// stop-typing never claims the conversation
	require.NoError(t, f.svc.Typing(ctx, opB, "connB", TypingCommand{IsTyping: false, TargetID: "w1"}))
	assert.Equal(t, "", f.holder(t, "w1"))
}

func TestWorkerSendIgnoresLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "hi", TargetID: "w1"})
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, worker, SendCommand{Content: "hi back", TargetID: "w9"})
	require.NoError(t, err)
	assert.Equal(t, "w1", msg.WorkerID)
	assert.Equal(t, model.SenderWorker, msg.Sender)
	assert.Empty(t, msg.OperatorID)
	assert.Equal(t, "opA", f.holder(t, "w1"))
}

func TestTooManyAttachmentsStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, worker, SendCommand{
		Content:     "pics",
		Attachments: []string{"a", "b", "c", "d", "e"},
	})
	assert.ErrorIs(t, err, &errs.ErrTooManyAttachments)
	assert.Equal(t, 0, f.repo.count())
	assert.Empty(t, f.emit.named(model.EvNewMessage))

	_, err = f.svc.SendMessage(ctx, opA, SendCommand{Attachments: make([]string, 5), TargetID: "w1"})
	assert.ErrorIs(t, err, &errs.ErrTooManyAttachments)
	assert.Equal(t, "", f.holder(t, "w1"))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "no target"})
	assert.ErrorIs(t, err, &errs.ErrBadRequest)

	_, err = f.svc.SendMessage(ctx, worker, SendCommand{Content: "   "})
	assert.ErrorIs(t, err, &errs.ErrBadRequest)
	assert.Equal(t, 0, f.repo.count())
}

func TestSendBroadcastsWithResolvedAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, worker, SendCommand{
		Content:     "see photos",
		Attachments: []string{"chat/w1/a.jpg", "https://cdn.example.com/b.jpg", "broken"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://files.test/chat/w1/a.jpg?ttl=900", "https://cdn.example.com/b.jpg"}, msg.AttachmentURLs)

	news := f.emit.named(model.EvNewMessage)
	require.Len(t, news, 1)
	assert.ElementsMatch(t, []string{model.GroupAllOperators, "worker:w1"}, news[0].target.Groups)

	stored, err := f.svc.History(ctx, "w1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	// raw references are what is persisted
	assert.Equal(t, []string{"chat/w1/a.jpg", "https://cdn.example.com/b.jpg", "broken"}, stored[0].Attachments)
	assert.Equal(t, msg.AttachmentURLs, stored[0].AttachmentURLs)

	// a.jpg resolved once and then cached; broken tried each time
	assert.Equal(t, 3, f.resolver.calls)
	assert.True(t, f.mr.Exists("att:url:chat/w1/a.jpg"))
}

func TestSendStoreFailureDoesNotBroadcast(t *testing.T) {
	f := newFixture(t)
	f.repo.fail = errors.New("connection refused")

	_, err := f.svc.SendMessage(context.Background(), worker, SendCommand{Content: "hi"})
	assert.ErrorIs(t, err, &errs.ErrUpstreamUnavailable)
	assert.Empty(t, f.emit.named(model.EvNewMessage))
}

func TestOperatorStoreFailureReleasesFreshLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.fail = errors.New("connection refused")

	_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "hi", TargetID: "w1"})
	assert.ErrorIs(t, err, &errs.ErrUpstreamUnavailable)
	assert.Empty(t, f.emit.named(model.EvConvLocked))
	assert.Empty(t, f.emit.named(model.EvNewMessage))
	assert.Equal(t, "", f.holder(t, "w1"))

	f.repo.fail = nil
	_, err = f.svc.SendMessage(ctx, opA, SendCommand{Content: "hi", TargetID: "w1"})
	require.NoError(t, err)
	require.Len(t, f.emit.named(model.EvConvLocked), 1)
	assert.Equal(t, "opA", f.holder(t, "w1"))

	// conv_locked goes out before the message it guards
	var order []string
	for _, x := range f.emit.out {
		order = append(order, x.event.Name)
	}
	assert.Equal(t, []string{model.EvConvLocked, model.EvNewMessage}, order)
}

func TestOperatorStoreFailureKeepsRefreshedLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, opA, SendCommand{Content: "first", TargetID: "w1"})
	require.NoError(t, err)

	f.repo.fail = errors.New("connection refused")
	_, err = f.svc.SendMessage(ctx, opA, SendCommand{Content: "second", TargetID: "w1"})
	assert.ErrorIs(t, err, &errs.ErrUpstreamUnavailable)
	assert.Equal(t, "opA", f.holder(t, "w1"))
	assert.Len(t, f.emit.named(model.EvConvLocked), 1)
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, worker, SendCommand{Content: "done"})
	require.NoError(t, err)

	first := f.clock
	_, err = f.svc.MarkRead(ctx, opA, MarkReadCommand{MessageIDs: []string{msg.ID}, TargetID: "w1"})
	require.NoError(t, err)

	f.advance(time.Minute)
	receipt, err := f.svc.MarkRead(ctx, opA, MarkReadCommand{MessageIDs: []string{msg.ID, " "}, TargetID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, receipt.MessageIDs)

	hist, err := f.svc.History(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, hist[0].ReadAt)
	assert.Equal(t, first, *hist[0].ReadAt)

	reads := f.emit.named(model.EvMessagesRead)
	require.Len(t, reads, 2)
	assert.ElementsMatch(t, []string{model.GroupAllOperators, "worker:w1"}, reads[1].target.Groups)

	_, err = f.svc.MarkRead(ctx, worker, MarkReadCommand{})
	assert.ErrorIs(t, err, &errs.ErrBadRequest)
}

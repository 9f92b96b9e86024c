package identity

import (
	"context"
	"testing"
	"time"

	"fieldgate/module/model"
	"fieldgate/service/storage"
	"fieldgate/tools/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubjects struct {
	rows  map[string]*Subject
	calls int
}

func (f *fakeSubjects) LoadSubject(_ context.Context, kind model.Kind, id string) (*Subject, error) {
	f.calls++
	s, ok := f.rows[string(kind)+":"+id]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	cp := *s
	return &cp, nil
}

func newVerifier(t *testing.T, subjects *fakeSubjects) (*Verifier, *miniredis.Miniredis, security.Options) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	opts := security.DefaultOptions([]byte("test-secret"))
	v := NewVerifier(Config{Token: opts, CacheTTL: 30 * time.Second}, storage.NewCoord(rdb), subjects)
	return v, mr, opts
}

func ver(n int64) *int64 { return &n }

func TestVerifyOperator(t *testing.T) {
	subjects := &fakeSubjects{rows: map[string]*Subject{
		"operator:op1": {ID: "op1", DisplayName: "Olga", SessionVersion: 3, Active: true},
	}}
	v, _, opts := newVerifier(t, subjects)

	tok, _, err := security.Generate(opts, "op1", "operator", ver(3), "web")
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), tok, "")
	require.NoError(t, err)
	assert.Equal(t, "op1", id.ID)
	assert.Equal(t, model.KindOperator, id.Kind)
	assert.Equal(t, "Olga", id.DisplayName)
	assert.Equal(t, int64(3), id.SessionVersion)
	assert.Equal(t, "web", id.ClientClass)

	// second verification is served from the cache
	_, err = v.Verify(context.Background(), tok, "")
	require.NoError(t, err)
	assert.Equal(t, 1, subjects.calls)
}

func TestVerifyVersionMismatch(t *testing.T) {
	subjects := &fakeSubjects{rows: map[string]*Subject{
		"operator:op1": {ID: "op1", SessionVersion: 4, Active: true},
	}}
	v, _, opts := newVerifier(t, subjects)

	tok, _, err := security.Generate(opts, "op1", "operator", ver(3), "")
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), tok, "")
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestVerifyLegacyTokenWithoutVersion(t *testing.T) {
	subjects := &fakeSubjects{rows: map[string]*Subject{
		"worker:w1": {ID: "w1", DisplayName: "Wanda", SessionVersion: 9, Active: true},
	}}
	v, _, opts := newVerifier(t, subjects)

	tok, _, err := security.Generate(opts, "w1", "worker", nil, "")
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), tok, "mobile")
	require.NoError(t, err)
	assert.Equal(t, model.KindWorker, id.Kind)
	assert.Equal(t, int64(0), id.SessionVersion)
	assert.Equal(t, "mobile", id.ClientClass)
}

func TestVerifyRejectsInactiveOrDeletedWorker(t *testing.T) {
	subjects := &fakeSubjects{rows: map[string]*Subject{
		"worker:w1": {ID: "w1", SessionVersion: 1, Active: false},
		"worker:w2": {ID: "w2", SessionVersion: 1, Active: true, Deleted: true},
	}}
	v, _, opts := newVerifier(t, subjects)

	for _, id := range []string{"w1", "w2"} {
		tok, _, err := security.Generate(opts, id, "worker", ver(1), "")
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), tok, "")
		assert.ErrorIs(t, err, ErrInactive, id)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	subjects := &fakeSubjects{rows: map[string]*Subject{}}
	v, _, opts := newVerifier(t, subjects)
	ctx := context.Background()

	_, err := v.Verify(ctx, "", "")
	assert.Error(t, err)

	_, err = v.Verify(ctx, "not-a-jwt", "")
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	other := security.DefaultOptions([]byte("other-secret"))
	tok, _, err := security.Generate(other, "op1", "operator", ver(1), "")
	require.NoError(t, err)
	_, err = v.Verify(ctx, tok, "")
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	tok, _, err = security.Generate(opts, "ghost", "operator", ver(1), "")
	require.NoError(t, err)
	_, err = v.Verify(ctx, tok, "")
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	tok, _, err = security.Generate(opts, "x", "robot", ver(1), "")
	require.NoError(t, err)
	_, err = v.Verify(ctx, tok, "")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCacheExpiresAndRepopulates(t *testing.T) {
	subjects := &fakeSubjects{rows: map[string]*Subject{
		"operator:op1": {ID: "op1", SessionVersion: 1, Active: true},
	}}
	v, mr, opts := newVerifier(t, subjects)
	ctx := context.Background()

	tok, _, err := security.Generate(opts, "op1", "operator", ver(1), "")
	require.NoError(t, err)
	_, err = v.Verify(ctx, tok, "")
	require.NoError(t, err)

	// bump the durable version; the cached copy still accepts until it expires
	subjects.rows["operator:op1"].SessionVersion = 2
	_, err = v.Verify(ctx, tok, "")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)
	_, err = v.Verify(ctx, tok, "")
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.Equal(t, 2, subjects.calls)

	require.NoError(t, Invalidate(ctx, v.coord, model.KindOperator, "op1"))
	assert.False(t, mr.Exists(cacheKey(model.KindOperator, "op1")))
}

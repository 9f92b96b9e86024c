package objstore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAndVerify(t *testing.T) {
	s, err := NewSigner(Config{BaseURL: "https://files.example.com/", Secret: []byte("s3cr3t")})
	require.NoError(t, err)

	raw, err := s.ResolveDownloadURL(context.Background(), "chat/w1/photo.jpg", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://files.example.com/files/chat/w1/photo.jpg?token="))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	key, err := s.VerifyDownloadToken(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "chat/w1/photo.jpg", key)
}

func TestExpiredLinkRejected(t *testing.T) {
	s, err := NewSigner(Config{BaseURL: "https://files.example.com", Secret: []byte("s3cr3t")})
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	raw, err := s.ResolveDownloadURL(context.Background(), "a.png", time.Minute)
	require.NoError(t, err)
	u, _ := url.Parse(raw)

	now = now.Add(2 * time.Minute)
	_, err = s.VerifyDownloadToken(u.Query().Get("token"))
	assert.Error(t, err)
}

func TestSignerRequiresSecretAndKey(t *testing.T) {
	_, err := NewSigner(Config{BaseURL: "https://x"})
	assert.Error(t, err)

	s, err := NewSigner(Config{BaseURL: "https://x", Secret: []byte("k")})
	require.NoError(t, err)
	_, err = s.ResolveDownloadURL(context.Background(), "/", time.Minute)
	assert.Error(t, err)
}

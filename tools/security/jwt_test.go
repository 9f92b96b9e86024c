package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	v := int64(7)
	tok, exp, err := Generate(opts, "op1", "operator", &v, "web")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, time.Minute)

	claims, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "op1", claims.Subject)
	assert.Equal(t, "operator", claims.Kind)
	require.NotNil(t, claims.Version)
	assert.Equal(t, int64(7), *claims.Version)
	assert.Equal(t, "web", claims.ClientClass)
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	opts.Leeway = 0
	past := time.Now().Add(-time.Hour)
	tok, err := SignValue(opts, SessionClaims{
		Kind: "worker",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "w1",
			ExpiresAt: jwtlib.NewNumericDate(past),
		},
	})
	require.NoError(t, err)

	_, err = Verify(opts, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubject(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	tok, _, err := Generate(opts, "", "worker", nil, "")
	require.NoError(t, err)
	_, err = Verify(opts, tok)
	assert.ErrorIs(t, err, ErrMissingSub)
}

func TestVerifyRejectsNoneAlg(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, SessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "op1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Verify(opts, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("k"), Alg: "RS256"}, "a", "operator", nil, "")
	assert.Error(t, err)
}

package objstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"fieldgate/tools/security"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// URLResolver turns a stored object key into a time-limited download URL.
type URLResolver interface {
	ResolveDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	BaseURL string
	Secret  []byte
}

// objectClaims is what the file service checks before streaming the object.
type objectClaims struct {
	Key string `json:"key"`
	jwtlib.RegisteredClaims
}

// Signer issues download links of the form {base}/files/{key}?token=...
// Bytes are served elsewhere; only the link is minted here.
type Signer struct {
	base *url.URL
	opts security.Options
	now  func() time.Time
}

func NewSigner(c Config) (*Signer, error) {
	if len(c.Secret) == 0 {
		return nil, errors.New("objstore: signing secret missing")
	}
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return nil, err
	}
	return &Signer{base: base, opts: security.DefaultOptions(c.Secret), now: time.Now}, nil
}

func (s *Signer) ResolveDownloadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("objstore: empty object key")
	}
	now := s.now()
	token, err := security.SignValue(s.opts, objectClaims{
		Key: key,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	})
	if err != nil {
		return "", err
	}

	u := *s.base
	u.Path = u.Path + "/files/" + key
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// VerifyDownloadToken is the counterpart the file service runs; kept here so
// both sides agree on the claim layout.
func (s *Signer) VerifyDownloadToken(token string) (string, error) {
	claims := &objectClaims{}
	_, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, security.ErrInvalidToken
		}
		return s.opts.Secret, nil
	}, jwtlib.WithExpirationRequired(), jwtlib.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	return claims.Key, nil
}

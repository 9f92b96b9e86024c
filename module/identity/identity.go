package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldgate/logger"
	"fieldgate/module/model"
	"fieldgate/service/storage"
	"fieldgate/tools/security"

	"go.uber.org/zap"
)

// Identity is resolved once per connection at handshake.
type Identity struct {
	ID             string     `json:"id"`
	Kind           model.Kind `json:"kind"`
	DisplayName    string     `json:"displayName"`
	SessionVersion int64      `json:"sessionVersion"` // 0 for legacy tokens
	ClientClass    string     `json:"clientClass"`
}

func (i *Identity) IsOperator() bool { return i.Kind == model.KindOperator }
func (i *Identity) IsWorker() bool   { return i.Kind == model.KindWorker }

// Subject is the durable record the session version is checked against.
type Subject struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	SessionVersion int64  `json:"sessionVersion"`
	Active         bool   `json:"active"`
	Deleted        bool   `json:"deleted"`
}

// SubjectStore reads the durable record. Implementations return ErrSubjectNotFound for unknown ids.
type SubjectStore interface {
	LoadSubject(ctx context.Context, kind model.Kind, id string) (*Subject, error)
}

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrUnknownKind     = errors.New("unknown subject kind")
	ErrInactive        = errors.New("worker inactive or deleted")
	ErrVersionMismatch = errors.New("session version superseded")
)

type Config struct {
	Token         security.Options
	CacheTTL      time.Duration
	DefaultClient string
}

// Verifier validates a session token against the subject's current session
// version. No retries: any failure is terminal for the connection attempt.
type Verifier struct {
	conf     Config
	coord    *storage.Coord
	subjects SubjectStore
}

func NewVerifier(conf Config, coord *storage.Coord, subjects SubjectStore) *Verifier {
	if conf.CacheTTL <= 0 {
		conf.CacheTTL = 60 * time.Second
	}
	if conf.DefaultClient == "" {
		conf.DefaultClient = "web"
	}
	return &Verifier{conf: conf, coord: coord, subjects: subjects}
}

func cacheKey(kind model.Kind, id string) string {
	return fmt.Sprintf("auth:subject:%s:%s", kind, id)
}

// Verify returns the identity for token. clientHint is the client class the
// handshake declared; the token's own claim wins when present.
func (v *Verifier) Verify(ctx context.Context, token, clientHint string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, security.ErrInvalidToken
	}
	claims, err := security.Verify(v.conf.Token, token)
	if err != nil {
		return nil, err
	}
	kind, ok := model.ParseKind(claims.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, claims.Kind)
	}

	sub, err := v.subject(ctx, kind, claims.Subject)
	if err != nil {
		return nil, err
	}
	if kind == model.KindWorker && (!sub.Active || sub.Deleted) {
		return nil, ErrInactive
	}

	var version int64
	if claims.Version != nil {
		version = *claims.Version
		if version != sub.SessionVersion {
			return nil, fmt.Errorf("%w: token=%d current=%d", ErrVersionMismatch, version, sub.SessionVersion)
		}
	}
	// legacy tokens without a version are always accepted

	client := claims.ClientClass
	if client == "" {
		client = strings.TrimSpace(clientHint)
	}
	if client == "" {
		client = v.conf.DefaultClient
	}

	return &Identity{
		ID:             claims.Subject,
		Kind:           kind,
		DisplayName:    sub.DisplayName,
		SessionVersion: version,
		ClientClass:    client,
	}, nil
}

// subject reads the short-TTL cache first and falls back to the durable record.
func (v *Verifier) subject(ctx context.Context, kind model.Kind, id string) (*Subject, error) {
	key := cacheKey(kind, id)
	if raw, ok, err := v.coord.Get(ctx, key); err != nil {
		logger.Warn("[identity] version cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var sub Subject
		if err := json.Unmarshal([]byte(raw), &sub); err == nil {
			return &sub, nil
		}
		logger.Warn("[identity] dropping undecodable cache entry", zap.String("key", key))
	}

	sub, err := v.subjects.LoadSubject(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(sub); err == nil {
		if err := v.coord.Set(ctx, key, b, v.conf.CacheTTL); err != nil {
			logger.Warn("[identity] version cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return sub, nil
}

// CacheDeleter is the slice of the coordination store Invalidate needs.
type CacheDeleter interface {
	Del(ctx context.Context, keys ...string) error
}

// Invalidate drops the cached subject so the next handshake on any instance
// reads the durable version, e.g. after a session version bump.
func Invalidate(ctx context.Context, c CacheDeleter, kind model.Kind, id string) error {
	return c.Del(ctx, cacheKey(kind, id))
}

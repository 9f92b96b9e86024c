package mongoutil

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// server codes that a retry cannot fix: UserNotFound, Unauthorized,
// AuthenticationFailed
var fatalCodes = map[int32]bool{11: true, 13: true, 18: true}

// ValidateAndSetDefaults fills pool and retry defaults and, when only
// addresses are given, builds the connection uri. authSource falls back to
// the database.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errors.New("either Uri or Address must be provided")
	}
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri != "" {
		return nil
	}
	authSource := c.AuthSource
	if authSource == "" {
		authSource = c.Database
	}
	var userinfo string
	if c.Username != "" && c.Password != "" {
		userinfo = url.UserPassword(c.Username, c.Password).String() + "@"
	}
	c.Uri = fmt.Sprintf("mongodb://%s%s/%s?authSource=%s&maxPoolSize=%d",
		userinfo, strings.Join(c.Address, ","), c.Database, authSource, c.MaxPoolSize)
	return nil
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return !fatalCodes[cmdErr.Code]
	}
	return true
}

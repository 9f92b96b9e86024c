package chat

import (
	"context"
	"strings"
	"time"

	"fieldgate/logger"
	"fieldgate/service/objstore"
	"fieldgate/service/storage"

	"go.uber.org/zap"
)

const attachmentCachePrefix = "att:url:"

// AttachmentResolver turns stored attachment references into URLs a client
// can fetch. Absolute http(s) references pass through untouched.
type AttachmentResolver struct {
	objects  objstore.URLResolver
	coord    *storage.Coord
	urlTTL   time.Duration
	cacheTTL time.Duration
}

func NewAttachmentResolver(objects objstore.URLResolver, coord *storage.Coord, urlTTL, cacheTTL time.Duration) *AttachmentResolver {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	// a cached link must outlive its cache entry
	if cacheTTL <= 0 || cacheTTL >= urlTTL {
		cacheTTL = urlTTL / 3
	}
	return &AttachmentResolver{objects: objects, coord: coord, urlTTL: urlTTL, cacheTTL: cacheTTL}
}

func isAbsoluteURL(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Resolve keeps input order. A reference that cannot be resolved is dropped
// from the result rather than failing the read.
func (r *AttachmentResolver) Resolve(ctx context.Context, refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if isAbsoluteURL(ref) {
			out = append(out, ref)
			continue
		}
		if u, ok := r.cached(ctx, ref); ok {
			out = append(out, u)
			continue
		}
		if r.objects == nil {
			continue
		}
		u, err := r.objects.ResolveDownloadURL(ctx, ref, r.urlTTL)
		if err != nil {
			logger.Warn("[chat] attachment url unavailable", zap.String("key", ref), zap.Error(err))
			continue
		}
		if r.coord != nil {
			if err := r.coord.Set(ctx, attachmentCachePrefix+ref, u, r.cacheTTL); err != nil {
				logger.Warn("[chat] attachment url cache write failed", zap.String("key", ref), zap.Error(err))
			}
		}
		out = append(out, u)
	}
	return out
}

func (r *AttachmentResolver) cached(ctx context.Context, key string) (string, bool) {
	if r.coord == nil {
		return "", false
	}
	u, ok, err := r.coord.Get(ctx, attachmentCachePrefix+key)
	if err != nil {
		logger.Warn("[chat] attachment url cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return u, ok
}

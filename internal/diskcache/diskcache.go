// Package diskcache memoizes an expensive decode keyed by a content
// fingerprint, so re-reading an unchanged peer state file across
// replica-sync cycles costs a map lookup instead of a full gob decode
// (grounded on github.com/ctessum/requestcache, the teacher's own
// on-demand caching layer).
package diskcache

import (
	"context"
	"fmt"
	"os"

	"github.com/ctessum/requestcache"

	"github.com/spatialmodel/colvars/internal/hash"
)

// DecodeFunc turns raw bytes into a decoded value. Implementations are
// supplied by the caller so this package never needs to know the decoded
// type.
type DecodeFunc func(raw []byte) (interface{}, error)

// Cache deduplicates concurrent requests for the same key and memoizes
// results in an LRU of the given size.
type Cache struct {
	rc     *requestcache.Cache
	maxLRU int
}

// New builds a Cache that decodes payloads with decode, running
// numWorkers decode goroutines.
func New(decode DecodeFunc, numWorkers, maxEntries int) *Cache {
	processor := func(_ context.Context, payload interface{}) (interface{}, error) {
		raw, ok := payload.([]byte)
		if !ok {
			return nil, fmt.Errorf("diskcache: payload is %T, not []byte", payload)
		}
		return decode(raw)
	}
	rc := requestcache.NewCache(processor, numWorkers, requestcache.Deduplicate(), requestcache.Memory(maxEntries))
	return &Cache{rc: rc, maxLRU: maxEntries}
}

// Decode returns the memoized decode of raw, keyed by fp (typically
// FileFingerprint(path)). Identical fp+raw pairs across calls skip the
// decode entirely.
func (c *Cache) Decode(ctx context.Context, fp string, raw []byte) (interface{}, error) {
	req := c.rc.NewRequest(ctx, raw, fp)
	return req.Result()
}

// FileFingerprint returns a cache key for path that changes whenever the
// file's size or modification time changes, cheap enough to compute every
// replica-sync cycle without reading the file.
func FileFingerprint(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return hash.Hash(fmt.Sprintf("%s@%d:%d", path, fi.Size(), fi.ModTime().UnixNano())), nil
}

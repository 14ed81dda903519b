package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"security-service/internal/config"
)

// BucketingManager assigns stable partition buckets: email hashes map to
// Scylla partition buckets, source addresses to ClickHouse event buckets.
type BucketingManager struct {
	emailBuckets int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		emailBuckets: cfg.Bucketing.EmailBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEmailBucket returns the partition bucket for an email hash
// (0 to emailBuckets-1). The same hash always lands in the same bucket.
func (bm *BucketingManager) GetEmailBucket(emailHash string) int {
	return bm.getBucket(emailHash, bm.emailBuckets)
}

// GetEventBucket returns the bucket for login-attempt and audit rows.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the UTC date partition used by analytical tables.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

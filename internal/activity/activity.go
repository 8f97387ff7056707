// Package activity records file accesses and derives co-occurrence
// signal from accesses that happen close together in time (§4.4).
package activity

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"time"

	"github.com/filerecall/filerecall/internal/errors"
	"github.com/filerecall/filerecall/internal/store"
)

// shardCount matches the ~256-shard table the spec calls for, bounding
// lock contention across unrelated file ids while keeping accesses to
// the same id strictly ordered (§4.4, §5).
const shardCount = 256

// DefaultWindow is the lookback window used to find co-accessed files
// when none is configured (§4.4).
const DefaultWindow = 5 * time.Minute

// LogResult is returned from Log, reporting the effect of one access
// event.
type LogResult struct {
	AccessCountAfter int64
	CoPairsUpdated   int
}

// Activity resolves file paths to activity events: recording the
// access and updating the co-occurrence graph against files accessed
// within the lookback window (§4.4).
type Activity struct {
	st     store.Store
	window time.Duration
	shards [shardCount]sync.Mutex
	seed   maphash.Seed
}

// New builds an Activity logger over st. A window <= 0 uses
// DefaultWindow.
func New(st store.Store, window time.Duration) *Activity {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Activity{st: st, window: window, seed: maphash.MakeSeed()}
}

func (a *Activity) shardFor(id int64) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(a.seed)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return &a.shards[h.Sum64()%shardCount]
}

// Log resolves path to a file id and records an access event at now.
// The co-occurrence window is read before the file's own last_accessed
// is updated, so a burst of accesses within the same instant never
// pairs a file with itself (§4.4).
//
// The critical section for a single id is: read the co-access window,
// update its own record, bump co-pairs. Reads for distinct ids may
// interleave; the per-id section never does (§5).
func (a *Activity) Log(ctx context.Context, path string, now time.Time) (LogResult, error) {
	f, err := a.st.GetFileByPath(ctx, path)
	if err != nil {
		return LogResult{}, errors.StoreErr("activity.log.lookup", err)
	}
	if f == nil {
		return LogResult{}, errors.NotFound("path is not indexed: "+path, nil)
	}

	lock := a.shardFor(f.ID)
	lock.Lock()
	defer lock.Unlock()

	since := now.Add(-a.window)
	others, err := a.st.RecentlyAccessed(ctx, since, f.ID)
	if err != nil {
		return LogResult{}, errors.StoreErr("activity.log.recently_accessed", err)
	}

	_, _, err = a.st.RecordAccess(ctx, f.ID, now)
	if err != nil {
		return LogResult{}, errors.StoreErr("activity.log.record_access", err)
	}

	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	for _, other := range others {
		if bumpErr := a.st.BumpCoPair(ctx, f.ID, other); bumpErr != nil {
			return LogResult{}, errors.StoreErr("activity.log.bump_copair", bumpErr)
		}
	}

	rec, err := a.st.GetActivity(ctx, f.ID)
	if err != nil {
		return LogResult{}, errors.StoreErr("activity.log.read_back", err)
	}
	accessCount := int64(0)
	if rec != nil {
		accessCount = rec.AccessCount
	}

	return LogResult{AccessCountAfter: accessCount, CoPairsUpdated: len(others)}, nil
}

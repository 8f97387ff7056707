package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/filerecall/filerecall/internal/store"
)

// InconsistencyType categorizes a detected mismatch between the Store
// and the Index.
type InconsistencyType int

const (
	// InconsistencyOrphanIndexed means an id is indexed but the Store
	// has no live embedding for it (e.g. tombstoned after the last
	// rebuild, or rebuild raced a deletion).
	InconsistencyOrphanIndexed InconsistencyType = iota
	// InconsistencyMissingFromIndex means the Store has a live
	// embedding for an id that the Index does not carry.
	InconsistencyMissingFromIndex
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanIndexed:
		return "orphan_indexed"
	case InconsistencyMissingFromIndex:
		return "missing_from_index"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected mismatch.
type Inconsistency struct {
	Type    InconsistencyType
	FileID  int64
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker compares the Store's live embeddings against
// what the Index actually has indexed, surfacing drift that a bug in
// the dirty-tracking or rebuild path could otherwise hide.
type ConsistencyChecker struct {
	store store.Store
	index Index
}

// NewConsistencyChecker builds a checker over st and idx.
func NewConsistencyChecker(st store.Store, idx Index) *ConsistencyChecker {
	return &ConsistencyChecker{store: st, index: idx}
}

// Check compares every live embedding in the Store against the
// Index's indexed ids.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	embeddings, err := c.store.AllLiveEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	storeIDs := make(map[int64]bool, len(embeddings))
	for id := range embeddings {
		storeIDs[id] = true
	}

	indexedIDs, err := c.index.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	indexedSet := make(map[int64]bool, len(indexedIDs))
	for _, id := range indexedIDs {
		indexedSet[id] = true
	}

	for id := range indexedSet {
		if !storeIDs[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanIndexed,
				FileID:  id,
				Details: "indexed but has no live embedding in the store",
			})
		}
	}
	for id := range storeIDs {
		if !indexedSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingFromIndex,
				FileID:  id,
				Details: "has a live embedding but is not indexed",
			})
		}
	}

	return &CheckResult{
		Checked:         len(storeIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair marks the index dirty if any inconsistency was found, forcing
// a rebuild from the Store on the next query. Individual repair is not
// possible since the Index only rebuilds wholesale (§4.3).
func (c *ConsistencyChecker) Repair(_ context.Context, issues []Inconsistency) {
	if len(issues) == 0 {
		return
	}
	slog.Warn("index inconsistent with store, marking dirty for rebuild", slog.Int("issue_count", len(issues)))
	c.index.MarkDirty()
}

// QuickCheck compares only counts, cheaper than Check.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	embeddings, err := c.store.AllLiveEmbeddings(ctx)
	if err != nil {
		return false, err
	}
	indexedIDs, err := c.index.AllIDs(ctx)
	if err != nil {
		return false, err
	}

	consistent := len(embeddings) == len(indexedIDs)
	if !consistent {
		slog.Debug("index/store count mismatch",
			slog.Int("store_count", len(embeddings)),
			slog.Int("index_count", len(indexedIDs)))
	}
	return consistent, nil
}

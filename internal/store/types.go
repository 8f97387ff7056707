// Package store is the sole authority for persisted state: files, their
// content and embeddings, access activity, and the co-occurrence graph
// (§3, §4.1).
package store

import (
	"context"
	"fmt"
	"time"
)

// File is a tracked filesystem entry. Identity is the absolute
// normalized path; id is assigned on first registration and stable for
// the file's lifetime, never reused even after tombstoning (§3).
type File struct {
	ID          int64
	Path        string
	Size        int64
	ModTime     time.Time
	MimeType    string // empty if undetermined
	ContentHash string // hex SHA-256 of the file bytes
	ScannedAt   time.Time
	Tombstoned  bool
}

// Content is one-to-one with File: the stored text snippet and its
// embedding vector. Embedding is nil iff Snippet is empty (§3).
type Content struct {
	FileID    int64
	Snippet   string
	Embedding []float32
}

// ActivityRecord is one-to-one with File, created lazily on first
// access event (§3, §4.4).
type ActivityRecord struct {
	FileID       int64
	FirstSeen    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// CoPair is an undirected pair of distinct file ids with ID1 < ID2 and
// a co_count >= 1 (§3).
type CoPair struct {
	ID1     int64
	ID2     int64
	CoCount int64
}

// ErrDimensionMismatch indicates an embedding's dimension does not
// match the configured model dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Store is the sole authority for persisted state (§4.1). All writes
// are transactional; failures from logical conflicts (e.g. path
// uniqueness) are resolved via upsert rather than surfaced as errors.
type Store interface {
	// UpsertFile inserts or updates a file record, keyed by path.
	// Changed is true iff this call altered hash or size. Serialized
	// per path.
	UpsertFile(ctx context.Context, path string, size int64, mtime time.Time, mime, hash string) (id int64, changed bool, err error)

	// PutContent replaces the content row for id atomically.
	PutContent(ctx context.Context, id int64, snippet string, embedding []float32) error

	// GetFileByPath returns the file at path, or nil if unknown.
	GetFileByPath(ctx context.Context, path string) (*File, error)

	// GetFileByID returns the file with the given id, or nil if unknown.
	GetFileByID(ctx context.Context, id int64) (*File, error)

	// ListLiveFiles returns every non-tombstoned file.
	ListLiveFiles(ctx context.Context) ([]*File, error)

	// Tombstone marks id as tombstoned, idempotently. Removes its
	// content and ANN membership marker but keeps activity/co-occurrence
	// history.
	Tombstone(ctx context.Context, id int64) error

	// RecordAccess creates-or-updates the ActivityRecord for id at ts
	// and returns the prior last_accessed (zero value if this is the
	// first access), so Activity can compute co-occurrence windows
	// without a second read.
	RecordAccess(ctx context.Context, id int64, ts time.Time) (priorLastAccessed time.Time, hadPrior bool, err error)

	// RecentlyAccessed returns the ids of live files (excluding
	// exclude) whose last_accessed >= since.
	RecentlyAccessed(ctx context.Context, since time.Time, exclude int64) ([]int64, error)

	// GetActivity returns the ActivityRecord for id, or nil if none
	// exists yet.
	GetActivity(ctx context.Context, id int64) (*ActivityRecord, error)

	// BumpCoPair canonicalizes (id1, id2) order and increments co_count
	// by 1, inserting at 1 on first occurrence.
	BumpCoPair(ctx context.Context, id1, id2 int64) error

	// CoCount returns the co_count between a and b, 0 if absent.
	CoCount(ctx context.Context, a, b int64) (int64, error)

	// CoPairsFor returns every CoPair row involving id.
	CoPairsFor(ctx context.Context, id int64) ([]*CoPair, error)

	// GetEmbedding returns the stored embedding for id, or nil if none.
	GetEmbedding(ctx context.Context, id int64) ([]float32, error)

	// AllLiveEmbeddings returns every live (id, embedding) pair with a
	// non-nil embedding, for Index rebuilds.
	AllLiveEmbeddings(ctx context.Context) (map[int64][]float32, error)

	// Close releases the underlying connection pool.
	Close() error
}

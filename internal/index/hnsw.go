package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coder/hnsw"
	"golang.org/x/sync/singleflight"

	"github.com/filerecall/filerecall/internal/errors"
	"github.com/filerecall/filerecall/internal/store"
)

// fileMagic and fileVersion identify the persisted index format. A
// mismatched magic or an unsupported version forces a rebuild from the
// Store rather than a hard failure (§6).
var fileMagic = [4]byte{'F', 'R', 'I', 'X'}

const fileVersion uint32 = 1

// snapshot is an immutable HNSW graph plus its id mapping. Queries read
// a snapshot reference; rebuilds produce a new one and swap it in
// atomically so in-flight queries keep running against the old one
// (§4.3, §5).
type snapshot struct {
	graph      *hnsw.Graph[int64]
	dimensions int
	count      int
	ids        []int64
}

func emptySnapshot(dimensions int) *snapshot {
	g := hnsw.NewGraph[int64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.Ml = 0.25
	g.EfSearch = 20
	return &snapshot{graph: g, dimensions: dimensions}
}

// HNSWIndex is the concrete Index backed by github.com/coder/hnsw,
// rebuilt lazily from a store.Store and persisted to a single opaque
// file (§4.3).
type HNSWIndex struct {
	st         store.Store
	path       string
	dimensions int

	current atomic.Pointer[snapshot]
	dirty   atomic.Bool
	group   singleflight.Group

	mu     sync.Mutex // guards Close
	closed bool
}

var _ Index = (*HNSWIndex)(nil)

// NewHNSWIndex opens (or lazily prepares to build) an index backed by
// st. If a persisted index exists at path and is valid, it is loaded;
// otherwise the index starts empty and dirty, rebuilding on first
// query.
func NewHNSWIndex(st store.Store, path string, dimensions int) (*HNSWIndex, error) {
	idx := &HNSWIndex{st: st, path: path, dimensions: dimensions}

	snap, err := loadSnapshot(path, dimensions)
	if err != nil {
		slog.Warn("index file unreadable, will rebuild from store", slog.String("path", path), slog.String("error", err.Error()))
		idx.current.Store(emptySnapshot(dimensions))
		idx.dirty.Store(true)
		return idx, nil
	}
	if snap == nil {
		idx.current.Store(emptySnapshot(dimensions))
		idx.dirty.Store(true)
		return idx, nil
	}
	idx.current.Store(snap)
	return idx, nil
}

// MarkDirty flags the index as stale (§4.3).
func (idx *HNSWIndex) MarkDirty() {
	idx.dirty.Store(true)
}

// IsDirty reports whether the next Query will trigger a rebuild.
func (idx *HNSWIndex) IsDirty() bool {
	return idx.dirty.Load()
}

// EnsureCurrent rebuilds from the Store if dirty. Concurrent callers
// coalesce onto one in-flight rebuild via singleflight (§4.3, §5).
func (idx *HNSWIndex) EnsureCurrent(ctx context.Context) error {
	if !idx.dirty.Load() {
		return nil
	}

	_, err, _ := idx.group.Do("rebuild", func() (interface{}, error) {
		if !idx.dirty.Load() {
			return nil, nil
		}
		if rebuildErr := idx.rebuild(ctx); rebuildErr != nil {
			return nil, rebuildErr
		}
		idx.dirty.Store(false)
		return nil, nil
	})
	return err
}

func (idx *HNSWIndex) rebuild(ctx context.Context) error {
	embeddings, err := idx.st.AllLiveEmbeddings(ctx)
	if err != nil {
		return errors.IndexErr("failed to load embeddings for index rebuild", err)
	}

	next := emptySnapshot(idx.dimensions)
	ids := make([]int64, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		vec := embeddings[id]
		if len(vec) != idx.dimensions {
			continue
		}
		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeVector(normalized)
		next.graph.Add(hnsw.MakeNode(id, normalized))
		next.count++
		next.ids = append(next.ids, id)
	}

	idx.current.Store(next)

	if idx.path != "" {
		if saveErr := saveSnapshot(idx.path, next); saveErr != nil {
			slog.Warn("failed to persist index", slog.String("path", idx.path), slog.String("error", saveErr.Error()))
		}
	}
	return nil
}

// Query returns up to k neighbors ranked by descending cosine
// similarity, rebuilding first if the index is dirty.
func (idx *HNSWIndex) Query(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if err := idx.EnsureCurrent(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != idx.dimensions {
		return nil, ErrDimensionMismatch{Expected: idx.dimensions, Got: len(vector)}
	}

	snap := idx.current.Load()
	if snap == nil || snap.count < 2 {
		return nil, nil
	}
	if k > snap.count {
		k = snap.count
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVector(query)

	nodes := snap.graph.Search(query, k)
	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		distance := snap.graph.Distance(query, n.Value)
		results = append(results, Result{ID: n.Key, Similarity: 1 - distance})
	}
	return results, nil
}

// AllIDs returns every currently indexed file id, rebuilding first if
// dirty.
func (idx *HNSWIndex) AllIDs(ctx context.Context) ([]int64, error) {
	if err := idx.EnsureCurrent(ctx); err != nil {
		return nil, err
	}
	snap := idx.current.Load()
	if snap == nil {
		return nil, nil
	}
	ids := make([]int64, len(snap.ids))
	copy(ids, snap.ids)
	return ids, nil
}

// Close releases resources held by the index.
func (idx *HNSWIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	idx.current.Store(emptySnapshot(idx.dimensions))
	return nil
}

type persistedMeta struct {
	Dimensions int
	NodeCount  int
	IDs        []int64
}

func saveSnapshot(path string, snap *snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(fileMagic[:]); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, fileVersion); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write version: %w", err)
	}

	meta := persistedMeta{Dimensions: snap.dimensions, NodeCount: snap.count, IDs: snap.ids}
	if err := gob.NewEncoder(w).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := snap.graph.Export(w); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// loadSnapshot returns nil, nil when no file exists at path (fresh
// start, not an error).
func loadSnapshot(path string, dimensions int) (*snapshot, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("unrecognized index file magic")
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("unsupported index file version %d", version)
	}

	var meta persistedMeta
	if err := gob.NewDecoder(r).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dimensions != dimensions {
		return nil, fmt.Errorf("index dimensions %d do not match configured %d", meta.Dimensions, dimensions)
	}

	snap := emptySnapshot(dimensions)
	if err := snap.graph.Import(r); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	snap.count = meta.NodeCount
	snap.ids = meta.IDs
	return snap, nil
}

// normalizeVector scales v to unit length in place, enabling cosine
// similarity via dot product (§4.3).
func normalizeVector(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/filerecall/filerecall/internal/embed"
	"github.com/filerecall/filerecall/internal/errors"
	"github.com/filerecall/filerecall/internal/index"
	"github.com/filerecall/filerecall/internal/store"
	"github.com/filerecall/filerecall/internal/textextract"
)

// DefaultSnippetBytes bounds how much of a file's extracted text is
// embedded when a caller doesn't configure one (§6).
const DefaultSnippetBytes = textextract.DefaultMaxBytes

// DefaultEmbedBatchSize groups embedding calls to amortize model
// invocation overhead (§4.2 step 3).
const DefaultEmbedBatchSize = 32

// ScanReport summarizes one reconciliation of a root against the Store
// (§4.2).
type ScanReport struct {
	ScanID     string
	Root       string
	Added      int
	Updated    int
	Unchanged  int
	Tombstoned int
	Failures   int
}

// Reconciler walks a root with a Scanner and reconciles what it finds
// against the Store, invoking the TextExtractor and Embedder for new
// or changed files and tombstoning files no longer present (§4.2).
type Reconciler struct {
	scanner      *Scanner
	st           store.Store
	embedder     embed.Embedder
	idx          index.Index
	snippetBytes int
	batchSize    int
	group        singleflight.Group
	logger       *slog.Logger
	embedBreaker *errors.CircuitBreaker
	retryConfig  errors.RetryConfig
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithSnippetBytes overrides how many bytes of extracted text are
// embedded per file.
func WithSnippetBytes(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.snippetBytes = n
		}
	}
}

// WithEmbedBatchSize overrides the embedding batch size.
func WithEmbedBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithReconcilerLogger overrides the structured logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler builds a Reconciler over the given collaborators.
func NewReconciler(sc *Scanner, st store.Store, embedder embed.Embedder, idx index.Index, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		scanner:      sc,
		st:           st,
		embedder:     embedder,
		idx:          idx,
		snippetBytes: DefaultSnippetBytes,
		batchSize:    DefaultEmbedBatchSize,
		logger:       slog.Default(),
		embedBreaker: errors.NewCircuitBreaker("embedder"),
		retryConfig:  errors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan reconciles root against the Store. Two concurrent calls for the
// same root coalesce onto a single underlying scan (§4.2).
func (r *Reconciler) Scan(ctx context.Context, root string, opts *ScanOptions) (*ScanReport, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.IOErr("scan.abs_root", err)
	}

	v, err, _ := r.group.Do(absRoot, func() (interface{}, error) {
		return r.scanOnce(ctx, absRoot, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ScanReport), nil
}

// ScanRoots reconciles disjoint roots in parallel (§4.2, §5).
func (r *Reconciler) ScanRoots(ctx context.Context, roots []string, opts *ScanOptions) ([]*ScanReport, error) {
	reports := make([]*ScanReport, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			rep, err := r.Scan(gctx, root, opts)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

type pendingEmbed struct {
	id      int64
	snippet string
}

func (r *Reconciler) scanOnce(ctx context.Context, absRoot string, opts *ScanOptions) (*ScanReport, error) {
	var local ScanOptions
	if opts != nil {
		local = *opts
	}
	local.RootDir = absRoot

	results, err := r.scanner.Scan(ctx, &local)
	if err != nil {
		return nil, errors.IOErr("scan.walk", err)
	}

	var files []*FileInfo
	report := &ScanReport{ScanID: uuid.NewString(), Root: absRoot}
	for res := range results {
		if res.Error != nil {
			report.Failures++
			continue
		}
		files = append(files, res.File)
	}

	// Sorted traversal makes two scans over an unchanged tree produce
	// identical reports (§4.2).
	sort.Slice(files, func(i, j int) bool { return files[i].AbsPath < files[j].AbsPath })

	seen := make(map[string]struct{}, len(files))
	var pending []pendingEmbed

	for _, fi := range files {
		select {
		case <-ctx.Done():
			return report, errors.Cancelled(ctx.Err())
		default:
		}

		seen[fi.AbsPath] = struct{}{}

		existing, err := r.st.GetFileByPath(ctx, fi.AbsPath)
		if err != nil {
			return report, errors.StoreErr("scan.lookup", err)
		}

		needsHash := existing == nil || existing.Size != fi.Size || existing.ModTime.Unix() != fi.ModTime.Unix()
		hash := ""
		if existing != nil {
			hash = existing.ContentHash
		}
		if needsHash {
			h, hashErr := hashFile(fi.AbsPath)
			if hashErr != nil {
				report.Failures++
				continue
			}
			hash = h
		}

		mime := textextract.MimeTypeForPath(fi.AbsPath)
		id, changed, err := r.st.UpsertFile(ctx, fi.AbsPath, fi.Size, fi.ModTime, mime, hash)
		if err != nil {
			return report, errors.StoreErr("scan.upsert", err)
		}

		switch {
		case existing == nil:
			report.Added++
		case changed:
			report.Updated++
		default:
			report.Unchanged++
			continue
		}

		extracted, extractErr := textextract.Extract(fi.AbsPath, r.snippetBytes)
		if extractErr != nil {
			report.Failures++
			continue
		}
		if extracted.IsText && extracted.Text != "" {
			pending = append(pending, pendingEmbed{id: id, snippet: extracted.Text})
			continue
		}
		if err := r.st.PutContent(ctx, id, "", nil); err != nil {
			return report, errors.StoreErr("scan.put_content", err)
		}
	}

	if err := r.embedPending(ctx, pending); err != nil {
		return report, err
	}

	tombstoned, err := r.tombstoneMissing(ctx, absRoot, seen)
	if err != nil {
		return report, err
	}
	report.Tombstoned = tombstoned

	if report.Added > 0 || report.Updated > 0 || report.Tombstoned > 0 {
		r.idx.MarkDirty()
	}

	r.logger.Info("scan complete",
		slog.String("scan_id", report.ScanID),
		slog.String("root", report.Root),
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("tombstoned", report.Tombstoned),
		slog.Int("failures", report.Failures),
	)

	return report, nil
}

func (r *Reconciler) embedPending(ctx context.Context, pending []pendingEmbed) error {
	for i := 0; i < len(pending); i += r.batchSize {
		end := i + r.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]

		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = p.snippet
		}

		var vectors [][]float32
		breakerErr := r.embedBreaker.Execute(func() error {
			return errors.Retry(ctx, r.retryConfig, func() error {
				v, embedErr := r.embedder.EmbedBatch(ctx, texts)
				if embedErr != nil {
					return embedErr
				}
				vectors = v
				return nil
			})
		})
		if breakerErr != nil {
			return errors.EmbedderErr("scan.embed_batch", breakerErr)
		}

		for j, p := range batch {
			var vec []float32
			if j < len(vectors) {
				vec = vectors[j]
			}
			if err := r.st.PutContent(ctx, p.id, p.snippet, vec); err != nil {
				return errors.StoreErr("scan.put_content", err)
			}
		}
	}
	return nil
}

// tombstoneMissing marks every live file whose absolute path falls
// under absRoot but wasn't seen in this walk (§4.2 step 4).
func (r *Reconciler) tombstoneMissing(ctx context.Context, absRoot string, seen map[string]struct{}) (int, error) {
	live, err := r.st.ListLiveFiles(ctx)
	if err != nil {
		return 0, errors.StoreErr("scan.list_live", err)
	}

	count := 0
	for _, f := range live {
		if _, ok := seen[f.Path]; ok {
			continue
		}
		if !underRoot(f.Path, absRoot) {
			continue
		}
		if err := r.st.Tombstone(ctx, f.ID); err != nil {
			return count, errors.StoreErr("scan.tombstone", err)
		}
		count++
	}
	return count, nil
}

func underRoot(path, absRoot string) bool {
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

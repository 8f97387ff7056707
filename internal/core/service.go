// Package core wires the Store, Scanner, Index, Activity and Ranker
// components into the four Core API operations (health, scan,
// recommend, activity.log) exposed across the CLI/HTTP boundary (§6).
package core

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/filerecall/filerecall/internal/activity"
	"github.com/filerecall/filerecall/internal/config"
	"github.com/filerecall/filerecall/internal/embed"
	"github.com/filerecall/filerecall/internal/errors"
	"github.com/filerecall/filerecall/internal/index"
	"github.com/filerecall/filerecall/internal/ranker"
	"github.com/filerecall/filerecall/internal/scanner"
	"github.com/filerecall/filerecall/internal/store"
)

const (
	storeFileName = "filerecall.db"
	indexFileName = "index.bin"
)

// HealthResult is the output of the health operation (§6).
type HealthResult struct {
	OK           bool `json:"ok"`
	ConfigLoaded bool `json:"config_loaded"`
	NFiles       int  `json:"n_files"`
	NEmbedded    int  `json:"n_embedded"`
	IndexDirty   bool `json:"index_dirty"`
}

// Service wires the five core components over a loaded Config and
// exposes the Core API operations named in §6. It owns the lifetime of
// the Store, Index and Embedder it constructs.
type Service struct {
	cfg *config.Config

	st       store.Store
	idx      index.Index
	embedder embed.Embedder

	scanner     *scanner.Scanner
	reconciler  *scanner.Reconciler
	act         *activity.Activity
	rank        *ranker.Ranker
	dirLock     *embed.FileLock
	logger      *slog.Logger
	defaultRoot string
}

// New builds a Service from cfg, creating the data directory and
// opening the Store and Index beneath it. The data directory is
// protected by a cross-process FileLock for the duration of
// initialization, so two filerecall processes racing to create a fresh
// store don't corrupt each other's first write (§5).
func New(cfg *config.Config) (*Service, error) {
	logger := slog.Default()

	lock := embed.NewFileLock(cfg.DataDir)
	if err := lock.Lock(); err != nil {
		return nil, errors.IOErr("core.new.lock_data_dir", err)
	}
	defer func() { _ = lock.Unlock() }()

	st, err := store.NewSQLiteStore(
		filepath.Join(cfg.DataDir, storeFileName),
		cfg.Store.MaxOpenConns,
		cfg.Store.BusyTimeoutMS,
		cfg.Store.CacheSizeKB,
	)
	if err != nil {
		return nil, err
	}

	idx, err := index.NewHNSWIndex(st, filepath.Join(cfg.DataDir, indexFileName), cfg.Embeddings.Dimensions)
	if err != nil {
		_ = st.Close()
		return nil, errors.IndexErr("core.new.open_index", err)
	}

	base := embed.NewStaticEmbedder(cfg.Embeddings.Dimensions)
	embedder := embed.NewCachedEmbedder(base, cfg.Embeddings.CacheSize)

	sc, err := scanner.New()
	if err != nil {
		_ = idx.Close()
		_ = st.Close()
		return nil, errors.Internal("core.new.scanner", err)
	}

	reconciler := scanner.NewReconciler(sc, st, embedder, idx,
		scanner.WithSnippetBytes(cfg.Scan.SnippetBytes),
		scanner.WithEmbedBatchSize(cfg.Scan.EmbedBatchSize),
	)

	act := activity.New(st, time.Duration(cfg.Activity.WindowSeconds)*time.Second)

	weights := ranker.Weights{
		Alpha: cfg.Ranking.SemanticWeight,
		Beta:  cfg.Ranking.RecencyWeight,
		Gamma: cfg.Ranking.CooccurrenceWeight,
	}
	rank := ranker.New(st, idx, act, ranker.WithWeights(weights))

	var defaultRoot string
	if len(cfg.Scan.Roots) > 0 {
		defaultRoot = cfg.Scan.Roots[0]
	}

	return &Service{
		cfg:         cfg,
		st:          st,
		idx:         idx,
		embedder:    embedder,
		scanner:     sc,
		reconciler:  reconciler,
		act:         act,
		rank:        rank,
		dirLock:     lock,
		logger:      logger,
		defaultRoot: defaultRoot,
	}, nil
}

// Config returns the Config the Service was built from, for adapters
// (CLI, HTTP) that need settings outside the four Core API operations,
// such as the HTTP server's listen address.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Close releases the Service's held resources.
func (s *Service) Close() error {
	if err := s.embedder.Close(); err != nil {
		s.logger.Warn("error closing embedder", slog.String("error", err.Error()))
	}
	if err := s.idx.Close(); err != nil {
		s.logger.Warn("error closing index", slog.String("error", err.Error()))
	}
	return s.st.Close()
}

// Health reports the health operation's output (§6).
func (s *Service) Health(ctx context.Context) (HealthResult, error) {
	live, err := s.st.ListLiveFiles(ctx)
	if err != nil {
		return HealthResult{}, err
	}

	embedded, err := s.st.AllLiveEmbeddings(ctx)
	if err != nil {
		return HealthResult{}, err
	}

	return HealthResult{
		OK:           true,
		ConfigLoaded: s.cfg != nil,
		NFiles:       len(live),
		NEmbedded:    len(embedded),
		IndexDirty:   s.idx.IsDirty(),
	}, nil
}

// Scan reconciles root against the Store. An empty root falls back to
// the first configured scan root.
func (s *Service) Scan(ctx context.Context, root string) (*scanner.ScanReport, error) {
	if root == "" {
		root = s.defaultRoot
	}
	if root == "" {
		return nil, errors.InvalidInput("scan requires a root path", nil)
	}

	opts := &scanner.ScanOptions{
		AllowedExtensions: s.cfg.Scan.Extensions,
		ExcludePatterns:   s.cfg.Scan.Exclude,
		MaxFileSize:       s.cfg.Scan.MaxFileBytes,
		RespectGitignore:  true,
		Workers:           config.NumCPU(),
	}
	return s.reconciler.Scan(ctx, root, opts)
}

// Recommend produces the ordered recommendation list for path (§4.5).
// A limit <= 0 falls back to the configured default. Identity in the
// Store is the absolute path (§3), so path is normalized before lookup.
func (s *Service) Recommend(ctx context.Context, path string, limit int) ([]ranker.Recommendation, error) {
	if path == "" {
		return nil, errors.InvalidInput("recommend requires a path", nil)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.IOErr("recommend.abs_path", err)
	}
	if limit <= 0 {
		limit = s.cfg.Ranking.DefaultLimit
	}
	if limit > s.cfg.Ranking.MaxLimit {
		limit = s.cfg.Ranking.MaxLimit
	}
	return s.rank.Recommend(ctx, absPath, limit)
}

// LogActivity records an access event for path (§4.4), normalized to an
// absolute path to match Store identity (§3).
func (s *Service) LogActivity(ctx context.Context, path string) (activity.LogResult, error) {
	if path == "" {
		return activity.LogResult{}, errors.InvalidInput("activity.log requires a path", nil)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return activity.LogResult{}, errors.IOErr("activity.log.abs_path", err)
	}
	return s.act.Log(ctx, absPath, time.Now())
}

// Package ranker combines semantic similarity, recency, and
// co-occurrence signals into a ranked recommendation list for a query
// file (§4.5).
package ranker

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/filerecall/filerecall/internal/activity"
	"github.com/filerecall/filerecall/internal/errors"
	"github.com/filerecall/filerecall/internal/index"
	"github.com/filerecall/filerecall/internal/store"
)

// k bounds and default weights (§4.5).
const (
	DefaultK = 5
	MinK     = 1
	MaxK     = 100

	DefaultAlpha = 0.6
	DefaultBeta  = 0.2
	DefaultGamma = 0.15

	modHalfLifeDays = 30.0
	accHalfLifeDays = 15.0
)

// Weights configures the final-score blend: final = α·s_sem + β·s_rec +
// γ·s_co. Weights need not sum to 1 and are not re-normalized (§4.5).
type Weights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// DefaultWeights returns the spec's default weight configuration.
func DefaultWeights() Weights {
	return Weights{Alpha: DefaultAlpha, Beta: DefaultBeta, Gamma: DefaultGamma}
}

// Factors holds the three per-candidate scoring components before
// weighting.
type Factors struct {
	Semantic     float64
	Recency      float64
	Cooccurrence float64
}

// Recommendation is one entry in a ranked recommendation list.
type Recommendation struct {
	Path       string
	FinalScore float64
	Factors    Factors
	Weights    Weights
}

// Clock returns the current time, overridable in tests so recency
// scoring is deterministic.
type Clock func() time.Time

// Ranker produces recommend(path, k) results over a Store, Index, and
// Activity logger (§4.5).
type Ranker struct {
	st      store.Store
	idx     index.Index
	act     *activity.Activity
	weights Weights
	clock   Clock
	logger  *slog.Logger
}

// Option configures a Ranker via the functional-option pattern.
type Option func(*Ranker)

// WithWeights overrides the default α/β/γ weighting.
func WithWeights(w Weights) Option {
	return func(r *Ranker) { r.weights = w }
}

// WithClock overrides the wall clock used for recency scoring and the
// self-access log timestamp, removing wall-clock coupling from tests.
func WithClock(c Clock) Option {
	return func(r *Ranker) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger overrides the structured logger used for boundary logging.
func WithLogger(l *slog.Logger) Option {
	return func(r *Ranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Ranker over the given collaborators.
func New(st store.Store, idx index.Index, act *activity.Activity, opts ...Option) *Ranker {
	r := &Ranker{
		st:      st,
		idx:     idx,
		act:     act,
		weights: DefaultWeights(),
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func clampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k < MinK {
		return MinK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// scoredCandidate carries the id alongside the public Recommendation so
// the deterministic tie-break (final desc, s_sem desc, s_rec desc, id
// asc) can sort on id without exposing it in the result type.
type scoredCandidate struct {
	id  int64
	rec Recommendation
}

// Recommend produces the ordered recommendation list for path (§4.5).
func (r *Ranker) Recommend(ctx context.Context, path string, k int) ([]Recommendation, error) {
	start := r.clock()
	k = clampK(k)

	qf, err := r.st.GetFileByPath(ctx, path)
	if err != nil {
		return nil, errors.StoreErr("ranker.recommend.lookup", err)
	}
	if qf == nil {
		return nil, errors.NotFound("path is not indexed: "+path, nil)
	}

	now := r.clock()
	if _, err := r.act.Log(ctx, path, now); err != nil {
		return nil, err
	}

	queryEmbedding, err := r.st.GetEmbedding(ctx, qf.ID)
	if err != nil {
		return nil, errors.StoreErr("ranker.recommend.query_embedding", err)
	}

	kAnn := 4 * k
	if kAnn < 32 {
		kAnn = 32
	}

	candidates := make(map[int64]struct{})
	annSimilarity := make(map[int64]float64)

	if queryEmbedding != nil {
		neighbors, err := r.idx.Query(ctx, queryEmbedding, kAnn)
		if err != nil {
			return nil, errors.IndexErr("ranker.recommend.ann_query", err)
		}
		for _, n := range neighbors {
			if n.ID == qf.ID {
				continue
			}
			annSimilarity[n.ID] = clamp01(float64(n.Similarity))
			candidates[n.ID] = struct{}{}
		}
	}

	coPairs, err := r.st.CoPairsFor(ctx, qf.ID)
	if err != nil {
		return nil, errors.StoreErr("ranker.recommend.copairs", err)
	}
	coCounts := make(map[int64]int64, len(coPairs))
	for _, cp := range coPairs {
		other := cp.ID1
		if other == qf.ID {
			other = cp.ID2
		}
		if other == qf.ID {
			continue
		}
		coCounts[other] = cp.CoCount
		candidates[other] = struct{}{}
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for id := range candidates {
		cf, err := r.st.GetFileByID(ctx, id)
		if err != nil {
			return nil, errors.StoreErr("ranker.recommend.candidate_lookup", err)
		}
		if cf == nil || cf.Tombstoned {
			continue
		}

		sSem, err := r.semanticScore(ctx, id, queryEmbedding, annSimilarity)
		if err != nil {
			return nil, err
		}
		sRec, err := r.recencyScore(ctx, cf, now)
		if err != nil {
			return nil, err
		}
		sCo := cooccurrenceScore(coCounts[id])

		final := r.weights.Alpha*sSem + r.weights.Beta*sRec + r.weights.Gamma*sCo

		scored = append(scored, scoredCandidate{
			id: id,
			rec: Recommendation{
				Path:       cf.Path,
				FinalScore: final,
				Factors:    Factors{Semantic: sSem, Recency: sRec, Cooccurrence: sCo},
				Weights:    r.weights,
			},
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return compare(scored[i], scored[j])
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	out := make([]Recommendation, len(scored))
	for i, sc := range scored {
		out[i] = sc.rec
	}

	r.logger.Debug("recommend",
		slog.String("op", "ranker.recommend"),
		slog.String("path", path),
		slog.Int("k", k),
		slog.Int("candidates", len(candidates)),
		slog.Duration("duration", r.clock().Sub(start)),
	)

	return out, nil
}

// compare implements the spec's deterministic tie-break: final score
// desc, then s_sem desc, then s_rec desc, then ascending id (§4.5).
func compare(a, b scoredCandidate) bool {
	if a.rec.FinalScore != b.rec.FinalScore {
		return a.rec.FinalScore > b.rec.FinalScore
	}
	if a.rec.Factors.Semantic != b.rec.Factors.Semantic {
		return a.rec.Factors.Semantic > b.rec.Factors.Semantic
	}
	if a.rec.Factors.Recency != b.rec.Factors.Recency {
		return a.rec.Factors.Recency > b.rec.Factors.Recency
	}
	return a.id < b.id
}

func (r *Ranker) semanticScore(ctx context.Context, candidateID int64, queryEmbedding []float32, annSimilarity map[int64]float64) (float64, error) {
	if sim, ok := annSimilarity[candidateID]; ok {
		return sim, nil
	}
	if queryEmbedding == nil {
		return 0, nil
	}
	candidateEmbedding, err := r.st.GetEmbedding(ctx, candidateID)
	if err != nil {
		return 0, errors.StoreErr("ranker.recommend.candidate_embedding", err)
	}
	if candidateEmbedding == nil {
		return 0, nil
	}
	return clamp01(cosineSimilarity(queryEmbedding, candidateEmbedding)), nil
}

func (r *Ranker) recencyScore(ctx context.Context, cf *store.File, now time.Time) (float64, error) {
	modTerm := 0.4 * math.Exp(-daysSince(cf.ModTime, now)/modHalfLifeDays)

	accTerm := 0.0
	rec, err := r.st.GetActivity(ctx, cf.ID)
	if err != nil {
		return 0, errors.StoreErr("ranker.recommend.activity_lookup", err)
	}
	if rec != nil {
		accTerm = 0.6 * math.Exp(-daysSince(rec.LastAccessed, now)/accHalfLifeDays)
	}

	return clamp01(modTerm + accTerm), nil
}

// cooccurrenceScore maps a raw co_count to [0, 1) via a logistic curve:
// n=0 yields 0, n=5 ≈ 0.46, n=10 ≈ 0.76 (§4.5).
func cooccurrenceScore(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return 2/(1+math.Exp(-float64(n)/5)) - 1
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// daysSince returns the age of t relative to now in fractional days,
// floored at 0 (a future timestamp contributes no extra decay boost).
func daysSince(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

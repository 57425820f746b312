package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoInput           = errors.New("no chunks to index")
	ErrIndexNotFound     = errors.New("index not found")
	ErrPersistence       = errors.New("index persistence failure")
	ErrCorruptIndex      = fmt.Errorf("%w: index and chunk map are inconsistent", ErrPersistence)
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

const MetricL2Squared = "l2-squared"

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is used when the embedder supports embedding several texts
// per request.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Entry struct {
	DocumentID string
	Title      string
	Text       string
}

type Record struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

type Result struct {
	Index      int     `json:"index"`
	Distance   float32 `json:"distance"`
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
}

type Hit struct {
	Index    int
	Distance float32
}

// Backend persists the vectors of one generation and serves exact
// squared-L2 nearest-neighbour queries over them.
type Backend interface {
	Name() string
	Write(ctx context.Context, genDir, buildID string, vectors [][]float32) error
	Open(ctx context.Context, genDir string, m Manifest) (Searcher, error)
	Drop(ctx context.Context, genDir, buildID string) error
}

type Searcher interface {
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
}

type Options struct {
	Dir       string
	Model     string
	BatchSize int
	Backend   Backend
	// Now is overridable for tests.
	Now func() time.Time
}

type Index struct {
	dir       string
	model     string
	batchSize int
	embedder  Embedder
	backend   Backend
	now       func() time.Time

	buildMu sync.Mutex

	mu     sync.RWMutex
	loaded *generation
}

type generation struct {
	manifest Manifest
	records  map[int]Record
	searcher Searcher
}

func NewIndex(e Embedder, opts Options) *Index {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Backend == nil {
		opts.Backend = NewFlatBackend()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Index{
		dir:       opts.Dir,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		embedder:  e,
		backend:   opts.Backend,
		now:       opts.Now,
	}
}

// Build embeds entries, writes a new generation and publishes it. Global
// indices follow input order. Searches keep using the previous generation
// until the publish completes.
func (x *Index) Build(ctx context.Context, entries []Entry) (*Manifest, error) {
	if len(entries) == 0 {
		return nil, ErrNoInput
	}

	x.buildMu.Lock()
	defer x.buildMu.Unlock()

	start := time.Now()
	vectors, err := x.embedAll(ctx, entries)
	if err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: embedder returned an empty vector", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	buildID := uuid.NewString()
	genDir := filepath.Join(x.dir, buildID)
	if err := os.MkdirAll(genDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create generation dir: %v", ErrPersistence, err)
	}

	m := Manifest{
		BuildID:   buildID,
		Model:     x.model,
		Dimension: dim,
		Count:     len(vectors),
		Metric:    MetricL2Squared,
		Backend:   x.backend.Name(),
		CreatedAt: x.now().UTC(),
	}

	records := make(map[int]Record, len(entries))
	for i, e := range entries {
		records[i] = Record{DocumentID: e.DocumentID, Title: e.Title, Text: e.Text}
	}

	if err := x.writeGeneration(ctx, genDir, m, vectors, records); err != nil {
		x.discard(ctx, genDir, buildID)
		return nil, err
	}

	previous, _ := readCurrent(x.dir)
	if err := publish(x.dir, buildID); err != nil {
		x.discard(ctx, genDir, buildID)
		return nil, err
	}

	x.prune(ctx, buildID, previous)

	slog.InfoContext(ctx, "index generation published",
		"build_id", buildID,
		"backend", m.Backend,
		"count", m.Count,
		"dimension", m.Dimension,
		"duration", time.Since(start))
	return &m, nil
}

func (x *Index) writeGeneration(ctx context.Context, genDir string, m Manifest, vectors [][]float32, records map[int]Record) error {
	if err := x.backend.Write(ctx, genDir, m.BuildID, vectors); err != nil {
		return fmt.Errorf("%w: write vectors: %v", ErrPersistence, err)
	}
	if err := writeRecords(genDir, records); err != nil {
		return err
	}
	// The manifest goes last: a generation without one is never loaded.
	return writeManifest(genDir, m)
}

func (x *Index) embedAll(ctx context.Context, entries []Entry) ([][]float32, error) {
	vectors := make([][]float32, 0, len(entries))
	batcher, canBatch := x.embedder.(BatchEmbedder)

	for lo := 0; lo < len(entries); lo += x.batchSize {
		hi := min(lo+x.batchSize, len(entries))
		texts := make([]string, 0, hi-lo)
		for _, e := range entries[lo:hi] {
			texts = append(texts, e.Text)
		}

		if canBatch {
			vs, err := batcher.EmbedBatch(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("embed batch %d-%d: %w", lo, hi, err)
			}
			if len(vs) != len(texts) {
				return nil, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", lo, hi, len(vs), len(texts))
			}
			vectors = append(vectors, vs...)
			continue
		}

		for i, t := range texts {
			v, err := x.embedder.Embed(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("embed entry %d: %w", lo+i, err)
			}
			vectors = append(vectors, v)
		}
		slog.DebugContext(ctx, "embedded batch", "from", lo, "to", hi)
	}
	return vectors, nil
}

// Search returns up to k records nearest to query, by ascending squared L2
// distance. Ties keep global index order.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}

	gen, err := x.current(ctx)
	if err != nil {
		return nil, err
	}

	if gen.manifest.Model != x.model {
		slog.WarnContext(ctx, "index was built with a different embedding model",
			"index_model", gen.manifest.Model, "query_model", x.model)
	}

	qv, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != gen.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(qv), gen.manifest.Dimension)
	}

	hits, err := gen.searcher.Search(ctx, qv, k)
	if err != nil {
		return nil, fmt.Errorf("search %s backend: %w", gen.manifest.Backend, err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, ok := gen.records[h.Index]
		if !ok {
			slog.WarnContext(ctx, "search hit has no chunk map entry", "index", h.Index, "build_id", gen.manifest.BuildID)
			continue
		}
		results = append(results, Result{
			Index:      h.Index,
			Distance:   h.Distance,
			DocumentID: rec.DocumentID,
			Title:      rec.Title,
			Text:       rec.Text,
		})
	}
	return results, nil
}

// Stats describes the published generation.
func (x *Index) Stats(ctx context.Context) (*Manifest, error) {
	gen, err := x.current(ctx)
	if err != nil {
		return nil, err
	}
	m := gen.manifest
	return &m, nil
}

// CountChunks reports the number of indexed chunks, or 0 before the first
// build.
func (x *Index) CountChunks(ctx context.Context) (int, error) {
	m, err := x.Stats(ctx)
	if errors.Is(err, ErrIndexNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Count, nil
}

func (x *Index) current(ctx context.Context) (*generation, error) {
	buildID, err := readCurrent(x.dir)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	gen := x.loaded
	x.mu.RUnlock()
	if gen != nil && gen.manifest.BuildID == buildID {
		return gen, nil
	}

	gen, err = x.load(ctx, buildID)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	x.loaded = gen
	x.mu.Unlock()
	return gen, nil
}

func (x *Index) load(ctx context.Context, buildID string) (*generation, error) {
	genDir := filepath.Join(x.dir, buildID)

	m, err := readManifest(genDir)
	if err != nil {
		return nil, err
	}
	if m.BuildID != buildID {
		return nil, fmt.Errorf("%w: manifest build %s does not match published build %s", ErrCorruptIndex, m.BuildID, buildID)
	}
	if m.Backend != x.backend.Name() {
		return nil, fmt.Errorf("%w: generation written by %s backend, configured backend is %s", ErrPersistence, m.Backend, x.backend.Name())
	}

	records, err := readRecords(genDir)
	if err != nil {
		return nil, err
	}
	if len(records) != m.Count {
		return nil, fmt.Errorf("%w: chunk map has %d entries, manifest has %d", ErrCorruptIndex, len(records), m.Count)
	}
	for i := 0; i < m.Count; i++ {
		if _, ok := records[i]; !ok {
			return nil, fmt.Errorf("%w: chunk map is missing index %d", ErrCorruptIndex, i)
		}
	}

	searcher, err := x.backend.Open(ctx, genDir, *m)
	if err != nil {
		return nil, err
	}
	n, err := searcher.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count vectors: %v", ErrPersistence, err)
	}
	if n != m.Count {
		return nil, fmt.Errorf("%w: vector store has %d vectors, chunk map has %d", ErrCorruptIndex, n, m.Count)
	}

	slog.InfoContext(ctx, "index generation loaded", "build_id", buildID, "count", m.Count)
	return &generation{manifest: *m, records: records, searcher: searcher}, nil
}

func (x *Index) discard(ctx context.Context, genDir, buildID string) {
	if err := x.backend.Drop(ctx, genDir, buildID); err != nil {
		slog.WarnContext(ctx, "failed to drop unpublished generation", "build_id", buildID, "error", err)
	}
	if err := os.RemoveAll(genDir); err != nil {
		slog.WarnContext(ctx, "failed to remove unpublished generation", "build_id", buildID, "error", err)
	}
}

// prune keeps the published generation and the one it replaced; readers
// that loaded the previous generation before the swap can finish with it.
func (x *Index) prune(ctx context.Context, current, previous string) {
	ids, err := listGenerations(x.dir)
	if err != nil {
		slog.WarnContext(ctx, "failed to list index generations", "error", err)
		return
	}
	for _, id := range ids {
		if id == current || id == previous {
			continue
		}
		x.discard(ctx, filepath.Join(x.dir, id), id)
		slog.InfoContext(ctx, "pruned index generation", "build_id", id)
	}
}

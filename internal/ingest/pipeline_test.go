package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"papermind/internal/config"
	"papermind/internal/ingest"
	"papermind/internal/text"
	"papermind/internal/vector"
)

type vowelEmbedder struct{}

func (vowelEmbedder) Embed(_ context.Context, s string) ([]float32, error) {
	v := make([]float32, 5)
	for _, r := range strings.ToLower(s) {
		if i := strings.IndexRune("aeiou", r); i >= 0 {
			v[i]++
		}
	}
	return v, nil
}

type MockExtractor struct{ mock.Mock }

func (m *MockExtractor) Extract(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

func newPipeline(t *testing.T, e ingest.Extractor, size, overlap int) (*ingest.Pipeline, *vector.Index) {
	t.Helper()
	idx := vector.NewIndex(vowelEmbedder{}, vector.Options{Dir: t.TempDir(), Model: "vowels"})
	p, err := ingest.NewPipeline(e, idx, text.Normalizer{StripReferences: true}, size, overlap)
	require.NoError(t, err)
	return p, idx
}

func TestPipeline_TestPaper(t *testing.T) {
	ctx := context.Background()
	p, idx := newPipeline(t, nil, 20, 5)

	report, err := p.Run(ctx, []ingest.Document{{
		ID:      "tp",
		Title:   "Test Paper",
		RawText: "Intro text. Method text. \nReferences\n[1] X",
	}})
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPublished, report.Status)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 2, report.Chunks)
	assert.NotEmpty(t, report.BuildID)

	results, err := idx.Search(ctx, "method", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Test Paper", results[0].Title)
	assert.Equal(t, "tp", results[0].DocumentID)

	all, err := idx.Search(ctx, "method", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	indices := []int{all[0].Index, all[1].Index}
	assert.ElementsMatch(t, []int{0, 1}, indices)
}

func TestPipeline_SkipsExtractionFailures(t *testing.T) {
	ctx := context.Background()
	ext := new(MockExtractor)
	ext.On("Extract", mock.Anything, "good.pdf").Return("A study of bees. "+strings.Repeat("Honey is sweet. ", 5), nil)
	ext.On("Extract", mock.Anything, "bad.pdf").Return("", errors.New("malformed xref"))

	p, idx := newPipeline(t, ext, 40, 10)
	report, err := p.Run(ctx, []ingest.Document{
		{ID: "good", Title: "Bees", PDFPath: "good.pdf"},
		{ID: "bad", Title: "Broken", PDFPath: "bad.pdf"},
		{ID: "nopath", Title: "Missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPublished, report.Status)
	assert.Equal(t, 1, report.Documents)
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, "bad", report.Skipped[0].DocumentID)
	assert.Contains(t, report.Skipped[0].Reason, "malformed xref")
	assert.Equal(t, "nopath", report.Skipped[1].DocumentID)

	n, err := idx.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)
	ext.AssertExpectations(t)
}

func TestPipeline_NothingToIndex(t *testing.T) {
	ctx := context.Background()
	ext := new(MockExtractor)
	ext.On("Extract", mock.Anything, "bad.pdf").Return("", errors.New("encrypted"))

	p, idx := newPipeline(t, ext, 20, 5)

	// An earlier generation must survive an empty refresh.
	_, err := p.Run(ctx, []ingest.Document{{ID: "a", Title: "A", RawText: "Some old text here."}})
	require.NoError(t, err)

	report, err := p.Run(ctx, []ingest.Document{{ID: "b", Title: "B", PDFPath: "bad.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusSkipped, report.Status)
	assert.Zero(t, report.Chunks)

	results, err := idx.Search(ctx, "old", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].DocumentID)
}

func TestPipeline_EmptyCatalog(t *testing.T) {
	p, _ := newPipeline(t, nil, 20, 5)
	report, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusSkipped, report.Status)
}

func TestNewPipeline_InvalidParams(t *testing.T) {
	_, err := ingest.NewPipeline(nil, nil, text.Normalizer{}, 10, 10)
	assert.ErrorIs(t, err, text.ErrInvalidChunkParams)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := newPipeline(t, nil, 20, 5)
	_, err := p.Run(ctx, []ingest.Document{{ID: "a", Title: "A", RawText: "text"}})
	assert.ErrorIs(t, err, context.Canceled)
}

// Package ingest turns a catalog of papers into a published index
// generation: extract, normalize, chunk, embed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"papermind/internal/text"
	"papermind/internal/vector"
)

var ErrExtraction = errors.New("text extraction failed")

const (
	StatusPublished = "published"
	StatusSkipped   = "skipped"
)

// Document is one paper to index. RawText, when set, is used instead of
// extracting PDFPath.
type Document struct {
	ID      string
	Title   string
	PDFPath string
	RawText string
}

type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type Indexer interface {
	Build(ctx context.Context, entries []vector.Entry) (*vector.Manifest, error)
}

type SkippedDocument struct {
	DocumentID string `json:"documentId"`
	Reason     string `json:"reason"`
}

type Report struct {
	Status    string            `json:"status"`
	Documents int               `json:"documents"`
	Chunks    int               `json:"chunks"`
	BuildID   string            `json:"buildId,omitempty"`
	Skipped   []SkippedDocument `json:"skipped"`
	Duration  time.Duration     `json:"durationNs"`
}

type Pipeline struct {
	extractor  Extractor
	index      Indexer
	normalizer text.Normalizer
	chunkSize  int
	overlap    int
}

func NewPipeline(e Extractor, index Indexer, normalizer text.Normalizer, chunkSize, overlap int) (*Pipeline, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", text.ErrInvalidChunkParams, chunkSize, overlap)
	}
	return &Pipeline{extractor: e, index: index, normalizer: normalizer, chunkSize: chunkSize, overlap: overlap}, nil
}

// Run rebuilds the index from docs. Documents whose text cannot be
// extracted are skipped; if nothing is left to index the current
// generation stays published and the report status is "skipped".
func (p *Pipeline) Run(ctx context.Context, docs []Document) (*Report, error) {
	start := time.Now()
	report := &Report{Skipped: []SkippedDocument{}}

	var entries []vector.Entry
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := p.rawText(ctx, doc)
		if err != nil {
			slog.WarnContext(ctx, "skipping document", "document_id", doc.ID, "error", err)
			report.Skipped = append(report.Skipped, SkippedDocument{DocumentID: doc.ID, Reason: err.Error()})
			continue
		}

		chunks, err := text.ChunkDocument(doc.ID, p.normalizer.Clean(raw), p.chunkSize, p.overlap)
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			report.Skipped = append(report.Skipped, SkippedDocument{DocumentID: doc.ID, Reason: "no text after cleaning"})
			continue
		}

		for _, c := range chunks {
			entries = append(entries, vector.Entry{DocumentID: doc.ID, Title: doc.Title, Text: c.Text})
		}
		report.Documents++
		slog.DebugContext(ctx, "document chunked", "document_id", doc.ID, "chunks", len(chunks))
	}

	report.Chunks = len(entries)
	manifest, err := p.index.Build(ctx, entries)
	report.Duration = time.Since(start)
	if errors.Is(err, vector.ErrNoInput) {
		slog.WarnContext(ctx, "nothing to index, keeping current generation", "documents", len(docs), "skipped", len(report.Skipped))
		report.Status = StatusSkipped
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	report.Status = StatusPublished
	report.BuildID = manifest.BuildID
	slog.InfoContext(ctx, "ingest finished",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"skipped", len(report.Skipped),
		"build_id", report.BuildID,
		"duration", report.Duration)
	return report, nil
}

func (p *Pipeline) rawText(ctx context.Context, doc Document) (string, error) {
	if doc.RawText != "" {
		return doc.RawText, nil
	}
	if doc.PDFPath == "" {
		return "", fmt.Errorf("%w: no pdf path", ErrExtraction)
	}
	if p.extractor == nil {
		return "", fmt.Errorf("%w: no extractor configured", ErrExtraction)
	}
	raw, err := p.extractor.Extract(ctx, doc.PDFPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return raw, nil
}

package paper

import (
	"context"
	"errors"
	"log/slog"

	"papermind/internal/ingest"
)

var ErrNotFound = errors.New("paper not found")

type Paper struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Published       string   `json:"published"`
	Summary         string   `json:"summary"`
	PDFURL          string   `json:"pdf_url"`
	PrimaryCategory string   `json:"primary_category"`
	LocalPDFPath    string   `json:"local_pdf_path,omitempty"`
}

type Repository interface {
	List(ctx context.Context) ([]Paper, error)
	Get(ctx context.Context, id string) (*Paper, error)
}

type Pipeline interface {
	Run(ctx context.Context, docs []ingest.Document) (*ingest.Report, error)
}

type Service struct {
	repo     Repository
	pipeline Pipeline
}

func NewService(repo Repository, pipeline Pipeline) *Service {
	return &Service{repo: repo, pipeline: pipeline}
}

// List returns the catalog newest first; the catalog file is append-only.
func (s *Service) List(ctx context.Context) ([]Paper, error) {
	papers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Paper, len(papers))
	for i, p := range papers {
		out[len(papers)-1-i] = p
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Paper, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	papers, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(papers), nil
}

// Refresh re-indexes every paper in the catalog.
func (s *Service) Refresh(ctx context.Context) (*ingest.Report, error) {
	papers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]ingest.Document, 0, len(papers))
	for _, p := range papers {
		docs = append(docs, ingest.Document{ID: p.ID, Title: p.Title, PDFPath: p.LocalPDFPath})
	}

	slog.InfoContext(ctx, "refreshing index", "papers", len(docs))
	return s.pipeline.Run(ctx, docs)
}

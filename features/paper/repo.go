package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CatalogRepo reads papers from the JSON catalog written by the scraper.
// The file is re-read on every call so external updates are picked up.
type CatalogRepo struct {
	path string
}

func NewCatalogRepo(path string) *CatalogRepo {
	return &CatalogRepo{path: path}
}

// List returns papers in file order. A missing catalog is an empty one.
// Duplicate ids keep their first occurrence.
func (r *CatalogRepo) List(_ context.Context) ([]Paper, error) {
	data, err := os.ReadFile(filepath.Clean(r.path)) // #nosec G304 -- path is from application config
	if errors.Is(err, fs.ErrNotExist) {
		return []Paper{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var papers []Paper
	if err := json.Unmarshal(data, &papers); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", r.path, err)
	}

	seen := make(map[string]bool, len(papers))
	out := make([]Paper, 0, len(papers))
	for _, p := range papers {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if p.Authors == nil {
			p.Authors = []string{}
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *CatalogRepo) Get(ctx context.Context, id string) (*Paper, error) {
	papers, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range papers {
		if papers[i].ID == id {
			return &papers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

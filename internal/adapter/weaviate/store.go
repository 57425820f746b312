// Package weaviate stores index generations in Weaviate, one class per
// generation, and answers nearest-neighbour queries with nearVector.
package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"papermind/internal/vector"
)

const batchSize = 100

var _ vector.Backend = (*Store)(nil)
var _ vector.SchemaClient = (*Store)(nil)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Name() string { return "weaviate" }

// Write creates the generation's class and inserts one object per vector.
// Chunk text stays in the chunk map; objects carry only the global index.
func (s *Store) Write(ctx context.Context, _ string, buildID string, vectors [][]float32) error {
	className := vector.ClassName(buildID)
	if err := vector.EnsureClass(ctx, s, className); err != nil {
		return fmt.Errorf("ensure class %s: %w", className, err)
	}

	for lo := 0; lo < len(vectors); lo += batchSize {
		hi := min(lo+batchSize, len(vectors))
		objs := make([]*models.Object, 0, hi-lo)
		for i := lo; i < hi; i++ {
			objs = append(objs, &models.Object{
				Class:      className,
				Properties: map[string]interface{}{"globalIndex": i},
				Vector:     vectors[i],
			})
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
		if err != nil {
			return err
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch insert: %s", r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

func (s *Store) Open(_ context.Context, _ string, m vector.Manifest) (vector.Searcher, error) {
	return &searcher{client: s.client, className: vector.ClassName(m.BuildID)}, nil
}

func (s *Store) Drop(ctx context.Context, _ string, buildID string) error {
	return vector.DropClass(ctx, s, vector.ClassName(buildID))
}

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func (s *Store) DeleteClass(ctx context.Context, className string) error {
	return s.client.Schema().ClassDeleter().WithClassName(className).Do(ctx)
}

type searcher struct {
	client    *weaviate.Client
	className string
}

func (s *searcher) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if err := graphqlErr(res); err != nil {
		return 0, err
	}

	rows := rowsOf(res, "Aggregate", s.className)
	if len(rows) == 0 {
		return 0, nil
	}
	meta, _ := rows[0]["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (s *searcher) Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(query)

	res, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(
			graphql.Field{Name: "globalIndex"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if err := graphqlErr(res); err != nil {
		return nil, err
	}

	var hits []vector.Hit
	for _, props := range rowsOf(res, "Get", s.className) {
		idx, ok := props["globalIndex"].(float64)
		if !ok {
			continue
		}
		hit := vector.Hit{Index: int(idx)}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Distance = float32(d)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func graphqlErr(res *models.GraphQLResponse) error {
	if len(res.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
}

func rowsOf(res *models.GraphQLResponse, op, className string) []map[string]interface{} {
	data, ok := res.Data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data[className].([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			rows = append(rows, props)
		}
	}
	return rows
}

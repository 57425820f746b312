package vector

import (
	"context"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	DeleteClass(ctx context.Context, className string) error
}

const (
	classPrefix     = "PaperChunk_"
	VectorIndexFlat = "flat"
)

// ClassName maps a generation to its Weaviate class. Class names must start
// with a capital letter and may not contain dashes.
func ClassName(buildID string) string {
	return classPrefix + strings.ReplaceAll(buildID, "-", "")
}

// chunkProperties holds only the global index; chunk text and titles live in
// the generation's chunk map.
func chunkProperties() []*models.Property {
	return []*models.Property{
		{
			Name:     "globalIndex",
			DataType: []string{"int"},
		},
	}
}

// EnsureClass creates the class for one generation, or adds any properties
// an existing class is missing.
func EnsureClass(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := chunkProperties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of a research paper",
			Vectorizer:  "none",
			// flat scans every vector, so nearest neighbours are exact.
			VectorIndexType: VectorIndexFlat,
			VectorIndexConfig: map[string]interface{}{
				"distance": MetricL2Squared,
			},
			Properties: properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}

// DropClass removes a generation's class if it exists.
func DropClass(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil || !exists {
		return err
	}
	return client.DeleteClass(ctx, className)
}

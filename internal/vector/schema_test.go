package vector

import (
	"context"
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	DeletedClasses  []string
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func (m *MockSchemaClient) DeleteClass(ctx context.Context, className string) error {
	m.DeletedClasses = append(m.DeletedClasses, className)
	return nil
}

func TestClassName(t *testing.T) {
	got := ClassName("0b8f9c2e-1d3a-4f5b-9a7c-2e4d6f8a0b1c")
	if got != "PaperChunk_0b8f9c2e1d3a4f5b9a7c2e4d6f8a0b1c" {
		t.Errorf("unexpected class name %q", got)
	}
}

func TestEnsureClass_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	if err := EnsureClass(context.Background(), client, "PaperChunk_abc"); err != nil {
		t.Fatalf("EnsureClass failed: %v", err)
	}

	if client.CreatedClass == nil {
		t.Fatal("Class not created")
	}
	if client.CreatedClass.Vectorizer != "none" {
		t.Errorf("expected vectorizer none, got %q", client.CreatedClass.Vectorizer)
	}

	cfg, ok := client.CreatedClass.VectorIndexConfig.(map[string]interface{})
	if !ok || cfg["distance"] != MetricL2Squared {
		t.Errorf("expected l2-squared distance, got %v", client.CreatedClass.VectorIndexConfig)
	}

	if client.CreatedClass.VectorIndexType != VectorIndexFlat {
		t.Errorf("expected flat vector index, got %q", client.CreatedClass.VectorIndexType)
	}

	expectedProps := map[string]string{
		"globalIndex": "int",
	}
	if len(client.CreatedClass.Properties) != len(expectedProps) {
		t.Fatalf("expected %d properties, got %d", len(expectedProps), len(client.CreatedClass.Properties))
	}
	for _, prop := range client.CreatedClass.Properties {
		expectedType, ok := expectedProps[prop.Name]
		if !ok {
			t.Errorf("unexpected property %s", prop.Name)
			continue
		}
		if len(prop.DataType) == 0 || prop.DataType[0] != expectedType {
			t.Errorf("Property %s has wrong DataType: %v (expected %s)", prop.Name, prop.DataType, expectedType)
		}
	}
}

func TestEnsureClass_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class:      "PaperChunk_abc",
			Properties: []*models.Property{},
		},
	}

	if err := EnsureClass(context.Background(), client, "PaperChunk_abc"); err != nil {
		t.Fatalf("EnsureClass failed: %v", err)
	}

	if client.CreatedClass != nil {
		t.Fatal("Should not recreate class if it exists")
	}
	if len(client.AddedProperties) != 1 || client.AddedProperties[0].Name != "globalIndex" {
		t.Errorf("expected globalIndex to be added, got %v", client.AddedProperties)
	}
}

func TestEnsureClass_ExistingClassUnchanged(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: "PaperChunk_abc",
			Properties: []*models.Property{
				{Name: "globalIndex", DataType: []string{"int"}},
			},
		},
	}

	if err := EnsureClass(context.Background(), client, "PaperChunk_abc"); err != nil {
		t.Fatalf("EnsureClass failed: %v", err)
	}
	if len(client.AddedProperties) != 0 {
		t.Errorf("expected no properties added, got %v", client.AddedProperties)
	}
}

func TestDropClass(t *testing.T) {
	t.Run("Missing Class Is A No-op", func(t *testing.T) {
		client := &MockSchemaClient{}
		if err := DropClass(context.Background(), client, "PaperChunk_abc"); err != nil {
			t.Fatalf("DropClass failed: %v", err)
		}
		if len(client.DeletedClasses) != 0 {
			t.Errorf("expected no deletes, got %v", client.DeletedClasses)
		}
	})

	t.Run("Existing Class Deleted", func(t *testing.T) {
		client := &MockSchemaClient{ExistingClass: &models.Class{Class: "PaperChunk_abc"}}
		if err := DropClass(context.Background(), client, "PaperChunk_abc"); err != nil {
			t.Fatalf("DropClass failed: %v", err)
		}
		if len(client.DeletedClasses) != 1 || client.DeletedClasses[0] != "PaperChunk_abc" {
			t.Errorf("unexpected deletes %v", client.DeletedClasses)
		}
	})
}

// Package gateway is the boundary to the external reasoning service.
package gateway

import "context"

// SchemaType names a JSON schema type.
type SchemaType string

const (
	TypeObject SchemaType = "object"
	TypeArray  SchemaType = "array"
	TypeString SchemaType = "string"
	TypeNumber SchemaType = "number"
)

// Schema describes the structured output a request expects.
type Schema struct {
	Type        SchemaType
	Description string
	Enum        []string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// Request is one reasoning call.
type Request struct {
	// System is the system instruction. Empty means none.
	System string

	// Prompt is the user content.
	Prompt string

	// Temperature is passed through unchanged.
	Temperature float32

	// Schema requests JSON output matching the schema. Nil requests free text.
	Schema *Schema
}

// Gateway generates a text response for a request.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// Func adapts a function to Gateway.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func (f Func) Model() string {
	return "func"
}

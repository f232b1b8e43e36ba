// Package llm is the generation capability consumed by pipeline stages,
// with the error taxonomy that drives retries.
package llm

import (
	"context"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

// Request is one structured generation call.
type Request struct {
	// System is optional guidance sent ahead of the prompt.
	System string
	Prompt string
	// Schema is the record shape the response must describe.
	Schema *schema.Schema
	// ItemID identifies the work item, for providers that vary output by item.
	ItemID string
}

// Generator produces raw model text for a request. Errors should be
// *Error values; unclassified errors are classified by message.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

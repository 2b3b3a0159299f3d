// Package embedding turns memo and query text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Dimension is the length of every embedding stored or compared by the service.
const Dimension = 1536

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider generates embeddings.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

func checkDimension(vec []float32) error {
	if len(vec) != Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), Dimension)
	}
	return nil
}

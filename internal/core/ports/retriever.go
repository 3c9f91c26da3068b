package ports

import (
	"context"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// AudioRetriever returns the raw bytes behind a recording reference.
type AudioRetriever interface {
	Retrieve(ctx context.Context, ref domain.RecordingReference) ([]byte, error)
}

// RetrieverFunc adapts a function to AudioRetriever.
type RetrieverFunc func(ctx context.Context, ref domain.RecordingReference) ([]byte, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, ref domain.RecordingReference) ([]byte, error) {
	return f(ctx, ref)
}

// Recording is an uploaded audio object.
type Recording struct {
	Name        string
	ContentType string
	Data        []byte
}

// RecordingStore is the upload side of the recording storage.
type RecordingStore interface {
	AudioRetriever
	Put(ctx context.Context, rec Recording) (domain.RecordingReference, error)
}

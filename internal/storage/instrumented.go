package storage

import (
	"context"

	"github.com/italolelis/movie_request_server/internal/telemetry"
)

// InstrumentedBackend wraps a Backend with telemetry.
type InstrumentedBackend struct {
	backend   Backend
	name      string
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBackend creates a new instrumented backend. name identifies the backend kind
// ("json", "sqlite", "bolt") in metrics.
func NewInstrumentedBackend(backend Backend, name string, tel *telemetry.Telemetry) *InstrumentedBackend {
	return &InstrumentedBackend{
		backend:   backend,
		name:      name,
		telemetry: tel,
	}
}

// Load reads the document with telemetry.
func (b *InstrumentedBackend) Load(ctx context.Context) ([]byte, error) {
	var result []byte

	err := b.telemetry.InstrumentDBOperation(ctx, b.name+"_load", func(ctx context.Context) error {
		var err error

		result, err = b.backend.Load(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Save writes the document with telemetry.
func (b *InstrumentedBackend) Save(ctx context.Context, document []byte) error {
	return b.telemetry.InstrumentDBOperation(ctx, b.name+"_save", func(ctx context.Context) error {
		return b.backend.Save(ctx, document)
	})
}

// Drop removes the document with telemetry.
func (b *InstrumentedBackend) Drop(ctx context.Context) error {
	return b.telemetry.InstrumentDBOperation(ctx, b.name+"_drop", func(ctx context.Context) error {
		return b.backend.Drop(ctx)
	})
}

package publish

import (
	"context"

	"github.com/italolelis/mirrord/internal/telemetry"
)

// InstrumentedBackend wraps a Backend with telemetry.
type InstrumentedBackend struct {
	backend   Backend
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBackend creates a new instrumented publish backend.
func NewInstrumentedBackend(backend Backend, tel *telemetry.Telemetry) *InstrumentedBackend {
	return &InstrumentedBackend{backend: backend, telemetry: tel}
}

func (b *InstrumentedBackend) Name() string {
	return b.backend.Name()
}

// Publish publishes through the wrapped backend with telemetry.
func (b *InstrumentedBackend) Publish(ctx context.Context, localPath, storedName string) (*Result, error) {
	var result *Result

	var err error

	instrumentedErr := b.telemetry.InstrumentClientOperation(ctx, b.backend.Name(), "publish", func(ctx context.Context) error {
		result, err = b.backend.Publish(ctx, localPath, storedName)

		return err
	})

	if instrumentedErr != nil {
		b.telemetry.RecordPublish(ctx, b.backend.Name(), "error")

		return nil, instrumentedErr
	}

	b.telemetry.RecordPublish(ctx, b.backend.Name(), "success")

	return result, nil
}

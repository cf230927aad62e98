package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keeper/persistence"
)

const tracerName = "keeper/store"

type tracedStore struct {
	next    persistence.Store
	backend string
	tracer  trace.Tracer
}

// Traced wraps next so every call is recorded as a span on the global tracer
// provider. With no provider installed the spans are no-ops.
func Traced(next persistence.Store, backend string) persistence.Store {
	return &tracedStore{next: next, backend: backend, tracer: otel.Tracer(tracerName)}
}

func (s *tracedStore) Put(ctx context.Context, key string, value map[string]any) error {
	ctx, span := s.tracer.Start(ctx, "store.Put", trace.WithAttributes(
		attribute.String("store.backend", s.backend),
		attribute.String("store.key", key),
		attribute.Int("store.fields", len(value)),
	))
	defer span.End()

	err := s.next.Put(ctx, key, value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *tracedStore) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.Get", trace.WithAttributes(
		attribute.String("store.backend", s.backend),
		attribute.String("store.key", key),
	))
	defer span.End()

	value, found, err := s.next.Get(ctx, key)
	span.SetAttributes(attribute.Bool("store.found", found))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return value, found, err
}

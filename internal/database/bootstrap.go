package database

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// SchemaBootstrapper runs schema creation at most once per process lifetime.
// Concurrent callers share the single in-flight attempt; a failed attempt is
// forgotten so the next caller retries.
type SchemaBootstrapper struct {
	init  func(ctx context.Context) error
	group singleflight.Group
	done  atomic.Bool
}

// NewSchemaBootstrapper creates a bootstrapper for the given database
func NewSchemaBootstrapper(db *DB) *SchemaBootstrapper {
	return &SchemaBootstrapper{init: db.InitializeContext}
}

// Ensure blocks until the schema exists or the shared attempt fails.
// Cancelling ctx stops the wait but not the shared attempt.
func (b *SchemaBootstrapper) Ensure(ctx context.Context) error {
	if b.done.Load() {
		return nil
	}

	ch := b.group.DoChan("schema", func() (interface{}, error) {
		if b.done.Load() {
			return nil, nil
		}
		if err := b.init(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		b.done.Store(true)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Ready reports whether bootstrap has completed
func (b *SchemaBootstrapper) Ready() bool {
	return b.done.Load()
}

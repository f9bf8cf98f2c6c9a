// Package engine wraps a single loaded model behind a narrow
// load/unload/generate contract. One Engine serves one model file at a time;
// all operations on an instance are serialized, so two generations can never
// race on the same engine. Independent engines (hence independent models)
// generate concurrently.
package engine

import (
	"context"

	"chatd/pkg/types"
)

// Engine is the capability set of one inference runtime instance.
//
// Load is idempotent when the currently loaded handle equals the requested
// one; otherwise any current model is unloaded first. Generate is only valid
// while loaded and does not change load state. Unload always succeeds and is
// safe when nothing is loaded.
type Engine interface {
	Load(ctx context.Context, handle string) error
	Unload()
	IsLoaded() bool
	Generate(ctx context.Context, prompt string, cfg types.GenerationConfig) (*Stream, error)
}

// Options carries runtime tunables shared by all engine instances.
type Options struct {
	// Context window size passed to the backend (0 = backend default).
	CtxSize int
	// CPU threads for generation (0 = backend default).
	Threads int
}

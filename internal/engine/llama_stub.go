//go:build !llama

package engine

// This file provides a no-CGO stub for the llama engine. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real engine lives in llama.go (tagged 'llama').

import (
	"context"

	"github.com/rs/zerolog"

	"chatd/pkg/types"
)

var llamaBuilt = false

// llamaEngine is a stub that satisfies Engine but refuses to load a model
// without the 'llama' build tag. It never emits placeholder tokens.
type llamaEngine struct {
	opts Options
	log  zerolog.Logger
}

// NewLlamaEngine returns an unloaded engine. In this build it fails fast on
// Load with a dependency error.
func NewLlamaEngine(opts Options, log zerolog.Logger) Engine {
	return &llamaEngine{opts: opts, log: log}
}

func (e *llamaEngine) Load(ctx context.Context, handle string) error {
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *llamaEngine) Unload() {}

func (e *llamaEngine) IsLoaded() bool { return false }

func (e *llamaEngine) Generate(ctx context.Context, prompt string, cfg types.GenerationConfig) (*Stream, error) {
	return nil, ErrNotLoaded()
}

package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Factory constructs a fresh, unloaded engine instance.
type Factory func() Engine

// Registry caches one Engine per model id so switching conversations does not
// reload a model already in memory. EngineFor and UnloadAll are the only
// mutation paths and exclude each other, so at most one instance ever exists
// per model id.
type Registry struct {
	mu      sync.Mutex
	engines map[uuid.UUID]Engine
	factory Factory
	log     zerolog.Logger
}

// NewRegistry returns an empty registry backed by factory.
func NewRegistry(factory Factory, log zerolog.Logger) *Registry {
	return &Registry{
		engines: make(map[uuid.UUID]Engine),
		factory: factory,
		log:     log,
	}
}

// EngineFor returns the cached engine for modelID, constructing an unloaded
// one on first use. It never loads eagerly; loading is the caller's call.
func (r *Registry) EngineFor(modelID uuid.UUID) Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[modelID]; ok {
		return e
	}
	e := r.factory()
	r.engines[modelID] = e
	r.log.Debug().Stringer("model_id", modelID).Msg("engine constructed")
	return e
}

// UnloadAll unloads every cached engine (fire-and-forget per engine) and
// clears the cache. A subsequent EngineFor returns a fresh unloaded instance.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[uuid.UUID]Engine)
	r.mu.Unlock()
	for id, e := range engines {
		go e.Unload()
		r.log.Debug().Stringer("model_id", id).Msg("engine unload requested")
	}
}

// Len reports the number of cached engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// LlamaBuilt reports whether this binary carries the real llama runtime.
func LlamaBuilt() bool { return llamaBuilt }

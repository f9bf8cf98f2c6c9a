//go:build llama

package engine

import (
	"context"
	"os"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"chatd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaEngine runs go-llama.cpp in process. The op mutex serializes
// load/unload/generate for the whole lifetime of each call (a generation holds
// it until its stream ends), so the backend never sees concurrent access.
type llamaEngine struct {
	opts Options
	log  zerolog.Logger

	op sync.Mutex // serializes load/unload/generate

	mu     sync.Mutex // guards the fields below
	model  *llama.LLama
	handle string
}

// NewLlamaEngine returns an unloaded in-process llama.cpp engine.
func NewLlamaEngine(opts Options, log zerolog.Logger) Engine {
	return &llamaEngine{opts: opts, log: log}
}

func (e *llamaEngine) Load(ctx context.Context, handle string) error {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	same := e.model != nil && e.handle == handle
	e.mu.Unlock()
	if same {
		return nil
	}
	if strings.TrimSpace(handle) == "" {
		return ErrModelFileNotFound("(empty)")
	}
	if _, err := os.Stat(handle); err != nil {
		return ErrModelFileNotFound(handle)
	}
	// Switching models: release the current one first.
	e.unloadLocked()

	mo := []llama.ModelOption{}
	if e.opts.CtxSize > 0 {
		mo = append(mo, llama.SetContext(e.opts.CtxSize))
	}
	m, err := llama.New(handle, mo...)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "alloc") {
			return ErrResourceExhausted(handle, err)
		}
		return ErrModelCorrupt(handle, err)
	}
	e.mu.Lock()
	e.model = m
	e.handle = handle
	e.mu.Unlock()
	e.log.Info().Str("handle", handle).Msg("model loaded")
	return nil
}

func (e *llamaEngine) Unload() {
	e.op.Lock()
	defer e.op.Unlock()
	e.unloadLocked()
}

// unloadLocked releases the backend model. Callers hold op.
func (e *llamaEngine) unloadLocked() {
	e.mu.Lock()
	m, handle := e.model, e.handle
	e.model = nil
	e.handle = ""
	e.mu.Unlock()
	if m != nil {
		m.Free()
		e.log.Info().Str("handle", handle).Msg("model unloaded")
	}
}

func (e *llamaEngine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil
}

func (e *llamaEngine) Generate(ctx context.Context, prompt string, cfg types.GenerationConfig) (*Stream, error) {
	e.op.Lock()
	e.mu.Lock()
	m := e.model
	e.mu.Unlock()
	if m == nil {
		e.op.Unlock()
		return nil, ErrNotLoaded()
	}
	s := NewStream(ctx, cfg, func(ctx context.Context, onToken func(string) error) error {
		defer e.op.Unlock()
		var cbErr error
		m.SetTokenCallback(func(tok string) bool {
			select {
			case <-ctx.Done():
				cbErr = ctx.Err()
				return false
			default:
			}
			if err := onToken(tok); err != nil {
				cbErr = err
				return false
			}
			return true
		})
		_, err := m.Predict(prompt, predictOptions(cfg, e.opts.Threads)...)
		if cbErr != nil {
			return cbErr
		}
		return err
	})
	return s, nil
}

// predictOptions maps the generation config onto go-llama.cpp options.
// Stop sequences are enforced by the stream pump, not the backend, so every
// adapter matches them identically.
func predictOptions(cfg types.GenerationConfig, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, cfg.MaxTokens)),
	}
	if threads > 0 {
		po = append(po, llama.SetThreads(threads))
	}
	if cfg.Temperature > 0 {
		po = append(po, llama.SetTemperature(float32(cfg.Temperature)))
	}
	if cfg.TopP > 0 {
		po = append(po, llama.SetTopP(float32(cfg.TopP)))
	}
	return po
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

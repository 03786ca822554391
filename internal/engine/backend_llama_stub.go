//go:build !llama

package engine

// This file provides a no-CGO stub for the llama backend. It is compiled when
// the 'llama' build tag is NOT set. The real backend lives in backend_llama.go.

import "context"

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = false

type llamaBackend struct {
	cfg BackendConfig
}

func newLlamaBackend(cfg BackendConfig) Backend { return &llamaBackend{cfg: cfg} }

func (b *llamaBackend) SupportsTools() bool { return false }

func (b *llamaBackend) Load(ctx context.Context, o LoadOptions) (Model, error) {
	// Fail fast: llama runtime not available in this build.
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"modelbench/internal/catalog"
)

// BackendKind names an inference runtime. The set is closed.
type BackendKind string

const (
	BackendLlama     BackendKind = "llama"
	BackendOpenAI    BackendKind = "openai"
	BackendMediaPipe BackendKind = "mediapipe"
)

// BackendKinds lists every recognized backend.
var BackendKinds = []BackendKind{BackendLlama, BackendOpenAI, BackendMediaPipe}

// ParseBackendKind maps a name to a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	k := BackendKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range BackendKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
}

// GenParams captures generation parameters passed to the backend.
type GenParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// BackendConfig holds settings fixed when the backend is created.
type BackendConfig struct {
	// llama
	ContextSize int
	Threads     int
	GPULayers   int // layers offloaded when UseGPU is set; 0 means all

	// openai
	BaseURL string
	APIKey  string

	Params GenParams
	Log    zerolog.Logger
}

// LoadOptions describes one model load.
type LoadOptions struct {
	Model       catalog.ModelConfiguration
	ModelPath   string
	UseGPU      bool
	ContextSize int
	Threads     int
}

// FinalResult summarizes one generation round.
type FinalResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Backend abstracts the model runtime used by the Engine.
type Backend interface {
	// Load prepares a model for inference.
	Load(ctx context.Context, opts LoadOptions) (Model, error)
	// SupportsTools reports whether the runtime can emit tool calls.
	SupportsTools() bool
}

// Model is a loaded model handle.
type Model interface {
	// Generate produces the assistant reply to history. onToken is invoked
	// synchronously, in order, for each content fragment; a non-nil return
	// stops generation. Implementations must return when ctx is canceled.
	Generate(ctx context.Context, history []Message, tools []Tool, onToken func(string) error) (FinalResult, error)
	// Close releases the model.
	Close() error
}

// NewBackend builds the backend for kind. Backends this build cannot provide
// fail with ErrUnsupportedBackend.
func NewBackend(kind BackendKind, cfg BackendConfig) (Backend, error) {
	switch kind {
	case BackendLlama:
		return newLlamaBackend(cfg), nil
	case BackendOpenAI:
		return newOpenAIBackend(cfg)
	case BackendMediaPipe:
		return nil, fmt.Errorf("%w: %s is not available on this platform", ErrUnsupportedBackend, kind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, string(kind))
	}
}

// LlamaAvailable reports whether this binary was built with in-process llama support.
func LlamaAvailable() bool { return llamaBuilt }

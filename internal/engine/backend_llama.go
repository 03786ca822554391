//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

// allGPULayers offloads every layer when no explicit count is configured.
const allGPULayers = 999

// llamaBackend holds global config used to load a model in-process.
type llamaBackend struct {
	cfg BackendConfig
}

func newLlamaBackend(cfg BackendConfig) Backend { return &llamaBackend{cfg: cfg} }

func (b *llamaBackend) SupportsTools() bool { return false }

// llamaModel owns the loaded model
type llamaModel struct {
	model   *llama.LLama
	threads int
	params  GenParams
}

func (b *llamaBackend) Load(ctx context.Context, o LoadOptions) (Model, error) {
	if strings.TrimSpace(o.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctxSize := zn(o.ContextSize, b.cfg.ContextSize)
	mo := []llama.ModelOption{
		llama.SetContext(ctxSize),
	}
	if o.UseGPU {
		mo = append(mo, llama.SetGPULayers(zn(b.cfg.GPULayers, allGPULayers)))
	}
	m, err := llama.New(o.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaModel{model: m, threads: zn(o.Threads, b.cfg.Threads), params: b.cfg.Params}, nil
}

func (s *llamaModel) Generate(ctx context.Context, history []Message, _ []Tool, onToken func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	// Bridge token streaming to onToken and respect cancellation
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		return onToken(tok) == nil
	})
	po := mapParamsToPredictOptions(s.params, s.threads)
	text, err := s.model.Predict(renderChatML(history), po...)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	if ctx.Err() != nil {
		return FinalResult{}, ctx.Err()
	}
	return FinalResult{Content: text, FinishReason: "stop"}, nil
}

func (s *llamaModel) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapParamsToPredictOptions converts generation params into go-llama.cpp options
func mapParamsToPredictOptions(params GenParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, zn(params.MaxTokens, 512))),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
		llama.SetStopWords(append([]string{chatMLEnd}, params.Stop...)...),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	return po
}

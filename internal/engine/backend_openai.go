package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openAIBackend talks to an OpenAI-compatible chat completions server.
type openAIBackend struct {
	client *openai.Client
	cfg    BackendConfig
}

func newOpenAIBackend(cfg BackendConfig) (Backend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("openai backend: base url is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &openAIBackend{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

func (b *openAIBackend) SupportsTools() bool { return true }

// Load checks that the server is reachable and serves the model. The bundle
// itself is loaded by the server.
func (b *openAIBackend) Load(ctx context.Context, o LoadOptions) (Model, error) {
	name := o.Model.ModelID
	if name == "" {
		return nil, errors.New("openai backend: model id is required")
	}
	list, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("openai server %s unreachable: %v", b.cfg.BaseURL, err))
	}
	if len(list.Models) > 0 {
		found := false
		for _, m := range list.Models {
			if m.ID == name || m.ID == o.Model.BundleFilename {
				name = m.ID
				found = true
				break
			}
		}
		if !found {
			b.cfg.Log.Warn().Str("model", name).Msg("openai event=model_not_listed")
		}
	}
	return &openAIModel{client: b.client, name: name, params: b.cfg.Params}, nil
}

type openAIModel struct {
	client *openai.Client
	name   string
	params GenParams
}

func (m *openAIModel) Close() error { return nil }

func (m *openAIModel) Generate(ctx context.Context, history []Message, tools []Tool, onToken func(string) error) (FinalResult, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.name,
		Messages:    toOpenAIMessages(history),
		Stream:      true,
		Temperature: m.params.Temperature,
		TopP:        m.params.TopP,
		MaxTokens:   m.params.MaxTokens,
		Stop:        m.params.Stop,
	}
	if m.params.Seed != 0 {
		seed := m.params.Seed
		req.Seed = &seed
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toolSchema(t.Parameters),
			},
		})
	}

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return FinalResult{}, err
	}
	defer stream.Close()

	var (
		content strings.Builder
		calls   = map[int]*ToolCall{}
		args    = map[int]*strings.Builder{}
		final   FinalResult
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return FinalResult{}, ctx.Err()
			}
			return FinalResult{}, err
		}
		if resp.Usage != nil {
			final.Usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		ch := resp.Choices[0]
		if ch.FinishReason != "" {
			final.FinishReason = string(ch.FinishReason)
		}
		if d := ch.Delta.Content; d != "" {
			content.WriteString(d)
			if err := onToken(d); err != nil {
				return FinalResult{}, err
			}
		}
		for i, tc := range ch.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &ToolCall{}
				calls[idx] = call
				args[idx] = &strings.Builder{}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			args[idx].WriteString(tc.Function.Arguments)
		}
	}

	final.Content = content.String()
	idxs := make([]int, 0, len(calls))
	for i := range calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		c := calls[i]
		raw := strings.TrimSpace(args[i].String())
		if raw == "" {
			raw = "{}"
		}
		c.Arguments = json.RawMessage(raw)
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d", i)
		}
		final.ToolCalls = append(final.ToolCalls, *c)
	}
	return final, nil
}

func toolSchema(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return p
}

func toOpenAIMessages(history []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, h := range history {
		msg := openai.ChatCompletionMessage{Role: string(h.Role), Content: h.Content}
		switch h.Role {
		case RoleAssistant:
			for _, c := range h.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   c.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      c.Name,
						Arguments: string(c.Arguments),
					},
				})
			}
		case RoleTool:
			msg.ToolCallID = h.ToolCallID
			msg.Name = h.Name
		}
		out = append(out, msg)
	}
	return out
}

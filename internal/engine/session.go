package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// errStopped signals the backend that the consumer left the stream.
var errStopped = errors.New("stream abandoned")

// SetToolsAndResetConversation replaces the active tools and clears history
// as one step. Tools require a model and backend with tool calling. An empty
// list removes all tools.
func (e *Engine) SetToolsAndResetConversation(tools []Tool) error {
	const op = "set_tools"
	if err := e.checkReady(op); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if err := t.validate(); err != nil {
			return err
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate tool %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	if err := e.acquire(context.Background(), op); err != nil {
		return err
	}
	defer e.release()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return &InferenceError{Op: op, Err: ErrNotReady}
	}
	if len(tools) > 0 && (!e.cfg.SupportsTools || !e.backend.SupportsTools()) {
		return fmt.Errorf("%s: %w", e.cfg.ModelID, ErrToolsUnsupported)
	}
	e.tools = append([]Tool(nil), tools...)
	e.history = nil
	e.log.Debug().Int("tools", len(tools)).Msg("engine event=tools_set")
	return nil
}

// ResetConversation clears history and, when systemPrompt is not blank,
// seeds it with a system turn. Tools are kept.
func (e *Engine) ResetConversation(systemPrompt string) error {
	const op = "reset"
	if err := e.checkReady(op); err != nil {
		return err
	}
	if err := e.acquire(context.Background(), op); err != nil {
		return err
	}
	defer e.release()

	e.mu.Lock()
	if e.state != Ready {
		e.mu.Unlock()
		return &InferenceError{Op: op, Err: ErrNotReady}
	}
	e.history = nil
	if strings.TrimSpace(systemPrompt) != "" {
		e.history = []Message{{Role: RoleSystem, Content: systemPrompt}}
	}
	e.mu.Unlock()
	e.publish(EventReset, nil)
	return nil
}

// checkReady fails fast for closed or not yet initialized sessions.
func (e *Engine) checkReady(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Ready:
		return nil
	case Closed:
		return &SessionClosedError{Op: op}
	default:
		return &InferenceError{Op: op, Err: ErrNotReady}
	}
}

// Prompt sends one user turn and returns the complete reply. It is the
// drained form of PromptStreaming.
func (e *Engine) Prompt(ctx context.Context, text string) (string, error) {
	var b strings.Builder
	for frag, err := range e.PromptStreaming(ctx, text) {
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}

// PromptStreaming sends one user turn and yields reply fragments as the model
// produces them. A failure is yielded once as the final element.
//
// The turn is committed to history only when the stream is consumed to the
// end. Breaking out of the loop early cancels generation and leaves history
// as it was before the call. Each call starts a new turn.
func (e *Engine) PromptStreaming(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		const op = "prompt"
		if err := e.checkReady(op); err != nil {
			yield("", err)
			return
		}
		if err := e.acquire(ctx, op); err != nil {
			yield("", err)
			return
		}
		defer e.release()

		e.mu.Lock()
		if e.state != Ready {
			e.mu.Unlock()
			yield("", &InferenceError{Op: op, Err: ErrNotReady})
			return
		}
		model := e.model
		tools := e.tools
		turn := append(cloneMessages(e.history), Message{Role: RoleUser, Content: text})
		e.mu.Unlock()

		tctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stopLife := context.AfterFunc(e.life, cancel)
		defer stopLife()

		stopped := false
		onToken := func(tok string) error {
			if stopped {
				return errStopped
			}
			if !yield(tok, nil) {
				stopped = true
				cancel()
				return errStopped
			}
			return nil
		}

		pending := []Message{turn[len(turn)-1]}
		for round := 0; ; round++ {
			res, err := model.Generate(tctx, turn, tools, onToken)
			if stopped {
				e.log.Debug().Msg("engine event=turn_abandoned")
				return
			}
			if err != nil {
				if e.life.Err() != nil {
					yield("", &SessionClosedError{Op: op})
					return
				}
				ierr := &InferenceError{Op: op, Err: err}
				e.setErr(ierr)
				e.publish(EventTurnFailed, map[string]any{"error": err.Error()})
				yield("", ierr)
				return
			}
			reply := Message{Role: RoleAssistant, Content: res.Content, ToolCalls: res.ToolCalls}
			turn = append(turn, reply)
			pending = append(pending, reply)
			if len(res.ToolCalls) == 0 {
				break
			}
			if round+1 >= e.maxToolRounds {
				ierr := &InferenceError{Op: op, Err: ErrToolRoundsExceeded}
				e.setErr(ierr)
				yield("", ierr)
				return
			}
			for _, call := range res.ToolCalls {
				msg := Message{Role: RoleTool, ToolCallID: call.ID, Name: call.Name, Content: e.invokeTool(tctx, tools, call)}
				turn = append(turn, msg)
				pending = append(pending, msg)
			}
		}

		e.mu.Lock()
		committed := e.state == Ready
		if committed {
			e.history = append(e.history, pending...)
		}
		e.mu.Unlock()
		if !committed {
			yield("", &SessionClosedError{Op: op})
			return
		}
		e.publish(EventTurnDone, map[string]any{"turns": len(pending)})
	}
}

// invokeTool runs one tool call. Unknown tools, invocation errors and panics
// are reported back to the model as the tool result.
func (e *Engine) invokeTool(ctx context.Context, tools []Tool, call ToolCall) (out string) {
	var tool *Tool
	for i := range tools {
		if tools[i].Name == call.Name {
			tool = &tools[i]
			break
		}
	}
	if tool == nil {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("error: tool %s panicked: %v", call.Name, r)
		}
	}()
	res, err := tool.Invoke(ctx, call.Arguments)
	e.publish(EventToolInvoked, map[string]any{"tool": call.Name, "ok": err == nil})
	if err != nil {
		return "error: " + err.Error()
	}
	return res
}

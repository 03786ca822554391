// Package engine wraps one loaded model into a stateful conversational session.
// It is structured into small files by concern:
//
//   - engine.go: Engine type, constructor, getters and CloseSession.
//   - initialize.go: Initialize / InitializeStream and bundle validation.
//   - session.go: Prompt, PromptStreaming, tools and history resets.
//   - types.go: State, Message, Tool and ToolCall.
//   - errors.go: error types and helpers (IsSessionClosed, IsInitialization, ...).
//   - backend.go: Backend / Model interfaces and the NewBackend factory.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//
// Build tags and backends:
//
//   - In-process llama: uses go-llama.cpp. Enabled with `-tags=llama`.
//     Files: backend_llama.go. Without the tag backend_llama_stub.go fails fast
//     with a dependency-unavailable error, keeping default builds CGO-free.
//
//   - openai: any OpenAI-compatible chat completions server (llama-server,
//     vLLM, ...) reached over HTTP. Supports native tool calls.
//
//   - mediapipe: recognized but not available on this platform.
//
// Prompts on one Engine run one at a time in submission order.
package engine

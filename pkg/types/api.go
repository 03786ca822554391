package types

// PromptRequest represents a prompt payload for the active session.
type PromptRequest struct {
	// Required user turn text.
	// example: What is 2+2?
	Prompt string `json:"prompt" example:"What is 2+2?"`
	// If true, stream fragments as NDJSON lines. Otherwise a single JSON object is returned.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// PromptResponse is returned by POST /prompt when streaming is off.
type PromptResponse struct {
	Content string `json:"content"`
}

// RunTestsRequest starts a test run.
type RunTestsRequest struct {
	// Offload layers to the GPU when the backend supports it.
	UseGPU bool `json:"use_gpu,omitempty"`
	// Optional domain filter (e.g., GENERIC). Empty runs every case.
	// example: GENERIC
	Domain string `json:"domain,omitempty" example:"GENERIC"`
	// Drive prompts through the streaming API.
	Streaming bool `json:"streaming,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of catalog models.
	Models []Model `json:"models"`
}

// DownloadsResponse wraps the status map returned by GET /downloads.
type DownloadsResponse struct {
	Downloads []DownloadStatus `json:"downloads"`
}

// DomainsResponse lists the domains present in the loaded suite.
type DomainsResponse struct {
	// example: ["GENERIC","ROUTING"]
	Domains []string `json:"domains" example:"GENERIC,ROUTING"`
}

// TokenRequest sets the download token.
type TokenRequest struct {
	Token string `json:"token"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Engine lifecycle state (uninitialized, initializing, ready, closed).
	// example: ready
	EngineState string `json:"engine_state" example:"ready"`
	// Model bound to the session, if any.
	// example: gemma3-1b-it-int4
	ModelID string `json:"model_id,omitempty" example:"gemma3-1b-it-int4"`
	// Inference backend in use.
	// example: llama
	Backend string `json:"backend" example:"llama"`
	// Number of catalog entries.
	CatalogSize int `json:"catalog_size"`
	// Number of downloads currently in progress.
	ActiveDownloads int `json:"active_downloads"`
	// Last error observed by the engine (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// PromptChunk is one NDJSON line of a streamed POST /prompt response.
type PromptChunk struct {
	// Text fragment in generation order.
	Delta string `json:"delta,omitempty"`
	// Set on the last line.
	Done bool `json:"done,omitempty"`
	// Set when generation failed after streaming began.
	Error string `json:"error,omitempty"`
}

// DownloadRequest starts a bundle download.
type DownloadRequest struct {
	// Re-fetch even when the bundle is already present.
	Force bool `json:"force,omitempty"`
}

// LoadModelRequest binds a model to the inference session.
type LoadModelRequest struct {
	UseGPU bool `json:"use_gpu,omitempty"`
}

// ResetRequest clears the conversation history.
type ResetRequest struct {
	// Optional system prompt placed at the start of the new history.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// CancelResponse is returned by DELETE /models/{id}/download.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// DeleteResponse is returned by DELETE /models/{id}/bundle.
type DeleteResponse struct {
	// False when there was no local bundle to delete.
	Deleted bool `json:"deleted"`
}

package types

// Model is the wire view of one catalog entry plus its local download state.
type Model struct {
	// Stable identifier for the model.
	// example: gemma3-1b-it-int4
	ID string `json:"id" example:"gemma3-1b-it-int4"`
	// Model family (e.g., gemma, llama, qwen).
	// example: gemma
	Family string `json:"family,omitempty" example:"gemma"`
	// Remote location of the bundle.
	// example: https://example.com/models/gemma3-1b-it-int4.gguf
	DownloadURL string `json:"download_url,omitempty" example:"https://example.com/models/gemma3-1b-it-int4.gguf"`
	// Filename of the bundle in the local storage area.
	// example: gemma3-1b-it-int4.gguf
	BundleFilename string `json:"bundle_filename" example:"gemma3-1b-it-int4.gguf"`
	// Approximate bundle size in bytes.
	// example: 554661246
	ApproximateSizeBytes int64 `json:"approximate_size_bytes,omitempty" example:"554661246"`
	// Whether the model supports tool calling.
	// example: true
	SupportsTools bool `json:"supports_tools" example:"true"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quantization string `json:"quantization,omitempty" example:"Q4_K_M"`
	// Local download state (not_started, in_progress, completed, failed).
	// example: completed
	DownloadState string `json:"download_state,omitempty" example:"completed"`
}

// DownloadStatus is the wire view of one bundle download.
type DownloadStatus struct {
	// Bundle filename the status belongs to.
	// example: gemma3-1b-it-int4.gguf
	Filename string `json:"filename" example:"gemma3-1b-it-int4.gguf"`
	// One of not_started, in_progress, completed, failed.
	// example: in_progress
	State string `json:"state" example:"in_progress"`
	// Fraction in [0,1]; 0 while indeterminate.
	// example: 0.42
	Progress float64 `json:"progress" example:"0.42"`
	// True when the total size is unknown.
	Indeterminate bool `json:"indeterminate,omitempty"`
	// Bytes received so far in this attempt.
	// example: 1048576
	BytesReceived int64 `json:"bytes_received,omitempty" example:"1048576"`
	// Expected total bytes, 0 when unknown.
	// example: 554661246
	TotalBytes int64 `json:"total_bytes,omitempty" example:"554661246"`
	// Local path once completed.
	LocalPath string `json:"local_path,omitempty"`
	// Failure reason when failed.
	Reason string `json:"reason,omitempty"`
}

// TestStatus is the wire view of one test case state update.
type TestStatus struct {
	// Identifier of the run this update belongs to.
	RunID string `json:"run_id"`
	// Test case name.
	// example: arithmetic
	Name string `json:"name" example:"arithmetic"`
	// Test domain.
	// example: GENERIC
	Domain string `json:"domain" example:"GENERIC"`
	// One of IDLE, RUNNING, PASS, FAIL.
	// example: PASS
	State string `json:"state" example:"PASS"`
	// Validator or infrastructure message.
	Message string `json:"message,omitempty"`
	// Wall time spent on the case in milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

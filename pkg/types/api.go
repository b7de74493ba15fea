package types

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	// Raw user text to process.
	// example: Ths sentence has a typo.
	Text string `json:"text" example:"Ths sentence has a typo."`
	// Task mode; unknown modes fall back to proofread.
	// example: proofread
	Mode Mode `json:"mode" example:"proofread"`
	// Backend snapshot; when omitted the daemon's configured default is used.
	Backend *BackendConfig `json:"backendConfig,omitempty"`
	// Optional correlation id echoed on every event.
	// example: 4b1e7c1a
	CorrelationID string `json:"correlationId,omitempty" example:"4b1e7c1a"`
}

// QuickRequest is the body of POST /v1/quick. Settings come from the saved
// configuration merged over safe defaults.
type QuickRequest struct {
	// example: Bonjour tout le monde
	Text string `json:"text" example:"Bonjour tout le monde"`
	// Defaults to translate.
	// example: translate
	Mode Mode `json:"mode,omitempty" example:"translate"`
}

// QuickResponse is returned by POST /v1/quick.
type QuickResponse struct {
	// example: Hello world
	Text string `json:"text" example:"Hello world"`
	// example: translate
	Mode Mode `json:"mode" example:"translate"`
	// example: 4b1e7c1a
	CorrelationID string `json:"correlationId" example:"4b1e7c1a"`
}

// PageExtractRequest is the body of POST /v1/page/extract.
type PageExtractRequest struct {
	// Full HTML document.
	HTML string `json:"html"`
}

// PageExtractResponse carries the readable text of a page.
type PageExtractResponse struct {
	Text string `json:"text"`
}

// ImportResponse summarizes a package import.
type ImportResponse struct {
	// example: 3
	Entries int `json:"entries" example:"3"`
	// example: 1048576
	Bytes int64 `json:"bytes" example:"1048576"`
	// URLs rejected by the trusted-source allow-list.
	Skipped []string `json:"skipped,omitempty"`
	// Joined error text for entries that could not be written.
	Error string `json:"error,omitempty"`
}

// SettingsResponse is returned by PUT /v1/settings.
type SettingsResponse struct {
	// Saved settings, API key removed.
	Settings BackendConfig `json:"settings"`
	// Whether a background load was started.
	// example: true
	Load bool `json:"load" example:"true"`
	// Engine status to show while the load runs.
	// example: loading
	Status string `json:"status" example:"loading"`
	// example: Initializing...
	ProgressText string `json:"progressText,omitempty" example:"Initializing..."`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
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

// EngineStatus summarizes a cached engine for /v1/status.
type EngineStatus struct {
	// example: local-gpu
	Kind BackendKind `json:"backendKind" example:"local-gpu"`
	// example: Qwen2.5-0.5B-Instruct-q4f16_1
	ModelID string `json:"modelId" example:"Qwen2.5-0.5B-Instruct-q4f16_1"`
	// Lifecycle state of the entry (loading, ready).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this engine served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Latest load progress in [0,1].
	// example: 1
	Progress float64 `json:"progress" example:"1"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	// Cached engines.
	Engines []EngineStatus `json:"engines"`
	// Maximum number of resident engines.
	// example: 2
	MaxEngines int `json:"max_engines" example:"2"`
	// Key of the most recently acquired engine.
	// example: local-gpu:Qwen2.5-0.5B-Instruct-q4f16_1
	Current string `json:"current,omitempty" example:"local-gpu:Qwen2.5-0.5B-Instruct-q4f16_1"`
	// Pending local generation jobs.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Whether the local worker is running a job.
	// example: false
	Processing bool `json:"processing" example:"false"`
	// Persisted engine status (idle, loading, ready, error).
	// example: ready
	EngineStatus string `json:"engine_status" example:"ready"`
	// Backend/model pairs known to load successfully.
	ReadyConfigs []string `json:"ready_configs"`
	// Backend/model pairs whose last load failed.
	FailedConfigs []string `json:"failed_configs"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

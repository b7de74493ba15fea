package types

import "strings"

// Model represents a locally available model file.
type Model struct {
	// Stable identifier for the model.
	// example: Qwen2.5-0.5B-Instruct-q4f16_1
	ID string `json:"id" example:"Qwen2.5-0.5B-Instruct-q4f16_1"`
	// Human-friendly name.
	// example: Qwen2.5 0.5B
	Name string `json:"name" example:"Qwen2.5 0.5B"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/Qwen2.5-0.5B-Instruct-q4f16_1.gguf
	Path string `json:"path" example:"/home/user/models/Qwen2.5-0.5B-Instruct-q4f16_1.gguf"`
	// Size of the model file in bytes.
	// example: 398458880
	SizeBytes int64 `json:"size_bytes" example:"398458880"`
	// Optional family (e.g., qwen, llama, mistral, phi, gemma).
	// example: qwen
	Family string `json:"family,omitempty" example:"qwen"`
}

// Mode is the text task requested by the user.
type Mode string

const (
	ModeSummarize Mode = "summarize"
	ModeCorrect   Mode = "correct"
	ModeProofread Mode = "proofread"
	ModeTranslate Mode = "translate"
	ModeExpand    Mode = "expand"
)

// Modes lists every supported mode in menu order.
var Modes = []Mode{ModeSummarize, ModeCorrect, ModeProofread, ModeTranslate, ModeExpand}

func (m Mode) Valid() bool {
	for _, v := range Modes {
		if v == m {
			return true
		}
	}
	return false
}

// Tone is the writing style applied by style-sensitive modes.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneAcademic     Tone = "academic"
	ToneConcise      Tone = "concise"
)

// Detail is the requested elaboration level.
type Detail string

const (
	DetailStandard Detail = "standard"
	DetailDetailed Detail = "detailed"
	DetailCreative Detail = "creative"
)

// BackendKind selects the generation provider.
type BackendKind string

const (
	BackendLocalGPU   BackendKind = "local-gpu"
	BackendLocalCPU   BackendKind = "local-cpu"
	BackendBuiltin    BackendKind = "builtin"
	BackendRemoteHTTP BackendKind = "remote-http"
)

// BackendKinds lists every backend kind.
var BackendKinds = []BackendKind{BackendLocalGPU, BackendLocalCPU, BackendBuiltin, BackendRemoteHTTP}

func (k BackendKind) Valid() bool {
	switch k {
	case BackendLocalGPU, BackendLocalCPU, BackendBuiltin, BackendRemoteHTTP:
		return true
	}
	return false
}

// Local reports whether the kind runs a llama.cpp engine owned by this process.
func (k BackendKind) Local() bool {
	return k == BackendLocalGPU || k == BackendLocalCPU
}

// RemoteEndpoint holds connection details for an OpenAI-compatible API.
type RemoteEndpoint struct {
	// example: https://api.openai.com/v1
	BaseURL string `json:"baseUrl" example:"https://api.openai.com/v1"`
	APIKey  string `json:"apiKey,omitempty"`
	// example: gpt-4o-mini
	ModelName string `json:"modelName" example:"gpt-4o-mini"`
}

// BackendConfig is a read-only snapshot of the user's engine settings.
type BackendConfig struct {
	// example: local-gpu
	Kind BackendKind `json:"backendKind" example:"local-gpu"`
	// Required for local-gpu and local-cpu.
	// example: Qwen2.5-0.5B-Instruct-q4f16_1
	ModelID string `json:"modelId,omitempty" example:"Qwen2.5-0.5B-Instruct-q4f16_1"`
	// example: professional
	Tone Tone `json:"tone,omitempty" example:"professional"`
	// example: standard
	Detail Detail `json:"detailLevel,omitempty" example:"standard"`
	// Display name or BCP 47 tag of the output language.
	// example: English
	TargetLanguage string          `json:"targetLanguage,omitempty" example:"English"`
	Remote         *RemoteEndpoint `json:"remoteEndpoint,omitempty"`
}

// ConfigKey identifies the (backend, model) pair for ready/failed tracking.
// Remote backends are not tracked and yield an empty key.
func (c BackendConfig) ConfigKey() string {
	switch c.Kind {
	case BackendRemoteHTTP:
		return ""
	case BackendBuiltin:
		m := strings.TrimSpace(c.ModelID)
		if m == "" {
			m = "default"
		}
		return string(c.Kind) + ":" + m
	default:
		return string(c.Kind) + ":" + c.ModelID
	}
}

// Redacted returns a copy without the API key, suitable for persistence.
func (c BackendConfig) Redacted() BackendConfig {
	out := c
	if c.Remote != nil {
		r := *c.Remote
		r.APIKey = ""
		out.Remote = &r
	}
	return out
}

// GenerationRequest is one unit of work for the generation pipeline.
type GenerationRequest struct {
	Text          string        `json:"text"`
	Mode          Mode          `json:"mode"`
	Backend       BackendConfig `json:"backend"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

package model

type GenerationKind string

const (
	GenerationImage GenerationKind = "image"
	GenerationVideo GenerationKind = "video"
)

// LoRARef names an adapter weight applied on top of the base checkpoint.
type LoRARef struct {
	Name     string  `yaml:"name" json:"name"`
	Strength float64 `yaml:"strength" json:"strength"`
}

// Params is the typed generation parameter set. Zero values mean "unset";
// the workflow builder fills unset fields from the model family defaults and
// validates the merged result once, at graph-build time.
type Params struct {
	Steps      int       `yaml:"steps" json:"steps,omitempty"`
	CFGScale   float64   `yaml:"cfg_scale" json:"cfg_scale,omitempty"`
	Width      int       `yaml:"width" json:"width,omitempty"`
	Height     int       `yaml:"height" json:"height,omitempty"`
	Sampler    string    `yaml:"sampler" json:"sampler,omitempty"`
	Scheduler  string    `yaml:"scheduler" json:"scheduler,omitempty"`
	Seed       int64     `yaml:"seed" json:"seed,omitempty"`
	Denoise    float64   `yaml:"denoise" json:"denoise,omitempty"`
	LoRAs      []LoRARef `yaml:"loras" json:"loras,omitempty"`
	FrameCount int       `yaml:"frame_count" json:"frame_count,omitempty"`
	FPS        int       `yaml:"fps" json:"fps,omitempty"`
	VAEName    string    `yaml:"vae_name" json:"vae_name,omitempty"`
}

// GenerationRequest is the immutable input to the orchestration subsystem.
// A resubmission creates a new request; nothing mutates an accepted one.
type GenerationRequest struct {
	ClipID         string         `json:"clip_id"`
	Kind           GenerationKind `json:"kind"`
	ModelName      string         `json:"model_name"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Params         Params         `json:"params"`
	Priority       int            `json:"priority"`
	MaxAttempts    int            `json:"max_attempts"`
}

const DefaultMaxAttempts = 3

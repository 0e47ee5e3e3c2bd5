package model

import "time"

// Provenance records how a result was produced.
type Provenance struct {
	Model     string `json:"model"`
	BackendID string `json:"backend_id"`
	Seed      int64  `json:"seed"`
	Params    Params `json:"params"`
}

// GenerationResult is created once per successfully completed job and is
// immutable. The recorder appends it to the owning clip's content collection.
type GenerationResult struct {
	ID              string         `json:"id"`
	JobID           string         `json:"job_id"`
	ClipID          string         `json:"clip_id"`
	Kind            GenerationKind `json:"kind"`
	URL             string         `json:"url"`
	Provenance      Provenance     `json:"provenance"`
	DurationSeconds float64        `json:"duration_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
}

package model

import (
	"strings"
	"time"
)

type BackendKind string

const (
	// BackendKindStandard is a long-running inference server that accepts a
	// node-graph payload and is polled via a history endpoint.
	BackendKindStandard BackendKind = "standard"
	// BackendKindServerless is a serverless GPU endpoint that accepts a flat
	// payload and exposes a status string machine.
	BackendKindServerless BackendKind = "serverless"
)

// HealthState is the tri-state outcome of a health probe. Unknown is never
// treated as healthy: schedulers must skip backends until a probe concludes.
type HealthState string

const (
	HealthOnline  HealthState = "online"
	HealthOffline HealthState = "offline"
	HealthUnknown HealthState = "unknown"
)

// Capabilities describes the generation families and models a backend serves.
// An empty Models list means the backend serves any model of its kinds.
type Capabilities struct {
	Kinds  []GenerationKind `yaml:"kinds" json:"kinds"`
	Models []string         `yaml:"models" json:"models"`
}

func (c Capabilities) Supports(kind GenerationKind, modelName string) bool {
	ok := false
	for _, k := range c.Kinds {
		if k == kind {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	if len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if strings.EqualFold(m, modelName) {
			return true
		}
	}
	return false
}

// BackendDescriptor is one remote inference target. Mutated only by the
// registry (registration API and health monitor).
type BackendDescriptor struct {
	ID              string       `yaml:"id" json:"id"`
	Kind            BackendKind  `yaml:"kind" json:"kind"`
	Endpoint        string       `yaml:"endpoint" json:"endpoint"`
	APIKey          string       `yaml:"api_key" json:"-"`
	Capabilities    Capabilities `yaml:"capabilities" json:"capabilities"`
	Health          HealthState  `yaml:"-" json:"health"`
	LastHealthCheck time.Time    `yaml:"-" json:"last_health_check"`
}

func (b *BackendDescriptor) Online() bool { return b.Health == HealthOnline }

// BackendLoad is derived, recomputed state; it is never persisted.
type BackendLoad struct {
	ActiveJobs    int64   `json:"active_jobs"`
	QueueLength   int64   `json:"queue_length"`
	AvgJobSeconds float64 `json:"avg_job_seconds"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
}

func (l BackendLoad) FailureRate() float64 {
	total := l.Successes + l.Failures
	if total == 0 {
		return 0
	}
	return float64(l.Failures) / float64(total)
}

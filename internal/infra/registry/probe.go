package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"storyboard-ai-generation/internal/domain/model"
)

// StandardProber checks a long-running inference server with a lightweight
// status call: online iff it answers 2xx within the timeout.
type StandardProber struct {
	client *http.Client
}

func NewStandardProber(timeout time.Duration) *StandardProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StandardProber{client: &http.Client{Timeout: timeout}}
}

func (p *StandardProber) Probe(ctx context.Context, d *model.BackendDescriptor) model.HealthState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"/system_stats", nil)
	if err != nil {
		return model.HealthUnknown
	}
	resp, err := p.client.Do(req)
	if err != nil {
		// Network timeout is offline for now; the registry re-probes on next
		// use instead of caching it as a permanent failure.
		return model.HealthOffline
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return model.HealthOnline
	}
	return model.HealthOffline
}

// ServerlessProber checks a serverless GPU endpoint. The status endpoint is
// ambiguous while the remote cold-starts, so an inconclusive answer falls
// back to a bare existence probe before the backend is declared offline.
// 401 and 404 are definitive: wrong credentials or wrong endpoint.
type ServerlessProber struct {
	client *http.Client
}

func NewServerlessProber(timeout time.Duration) *ServerlessProber {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &ServerlessProber{client: &http.Client{Timeout: timeout}}
}

func (p *ServerlessProber) Probe(ctx context.Context, d *model.BackendDescriptor) model.HealthState {
	state := p.probeStatus(ctx, d)
	if state != model.HealthUnknown {
		return state
	}
	return p.probeExists(ctx, d)
}

func (p *ServerlessProber) probeStatus(ctx context.Context, d *model.BackendDescriptor) model.HealthState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"/health", nil)
	if err != nil {
		return model.HealthUnknown
	}
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return model.HealthUnknown // possibly cold-starting
		}
		return model.HealthUnknown
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		return model.HealthOffline
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return model.HealthUnknown // malformed body, fall through to existence probe
		}
		return model.HealthOnline
	default:
		return model.HealthUnknown
	}
}

func (p *ServerlessProber) probeExists(ctx context.Context, d *model.BackendDescriptor) model.HealthState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint, nil)
	if err != nil {
		return model.HealthUnknown
	}
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return model.HealthOffline
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		return model.HealthOffline
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return model.HealthOnline
	default:
		return model.HealthUnknown
	}
}

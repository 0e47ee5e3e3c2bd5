// Package comfy speaks the standard backend protocol: submit a node graph,
// receive a prompt handle, poll the history endpoint until outputs appear,
// then derive the output reference from the first artifact.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
)

// Compile-time assurance this client satisfies the port
var _ adapter.ExecutionClient = (*Client)(nil)

type Client struct {
	http         *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	log          *zerolog.Logger
}

func NewClient(pollInterval, pollTimeout time.Duration, log *zerolog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Minute
	}
	return &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		log:          log,
	}
}

func (c *Client) Kind() model.BackendKind { return model.BackendKindStandard }

type submitResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

func (c *Client) Execute(ctx context.Context, job *model.Job, graph *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
	start := time.Now()
	promptID, err := c.submit(ctx, graph, backend)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("job_id", job.ID).Str("prompt_id", promptID).Str("backend_id", backend.ID).Msg("graph submitted")

	outURL, err := c.waitForOutput(ctx, backend, promptID)
	if err != nil {
		return nil, err
	}

	return &model.GenerationResult{
		ID:     uuid.NewString(),
		JobID:  job.ID,
		ClipID: job.Request.ClipID,
		Kind:   job.Request.Kind,
		URL:    outURL,
		Provenance: model.Provenance{
			Model:     job.Request.ModelName,
			BackendID: backend.ID,
			Seed:      job.Request.Params.Seed,
			Params:    job.Request.Params,
		},
		DurationSeconds: time.Since(start).Seconds(),
		CreatedAt:       time.Now(),
	}, nil
}

func (c *Client) submit(ctx context.Context, graph *model.ExecutionGraph, backend *model.BackendDescriptor) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    graph.Nodes,
		"client_id": "storyboard-orchestrator",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.Endpoint+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(backend.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return "", fmt.Errorf("%w: http 400", domain.ErrBackendRejected)
	}
	if resp.StatusCode >= 300 {
		return "", &domain.BackendError{BackendID: backend.ID, Detail: fmt.Sprintf("submit http %d", resp.StatusCode)}
	}
	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &domain.BackendError{BackendID: backend.ID, Detail: "malformed submit response"}
	}
	if len(sr.NodeErrors) > 0 {
		return "", fmt.Errorf("%w: %d node errors", domain.ErrBackendRejected, len(sr.NodeErrors))
	}
	if sr.PromptID == "" {
		return "", &domain.BackendError{BackendID: backend.ID, Detail: "no prompt id in response"}
	}
	return sr.PromptID, nil
}

// historyEntry mirrors the relevant slice of the history endpoint payload.
type historyEntry struct {
	Status struct {
		Completed bool   `json:"completed"`
		StatusStr string `json:"status_str"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []artifact `json:"images"`
		Videos []artifact `json:"videos"`
	} `json:"outputs"`
}

type artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func (c *Client) waitForOutput(ctx context.Context, backend *model.BackendDescriptor, promptID string) (string, error) {
	deadline := time.NewTimer(c.pollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("%w: no completion after %s", domain.ErrBackendTimeout, c.pollTimeout)
		case <-tick.C:
			entry, err := c.fetchHistory(ctx, backend, promptID)
			if err != nil {
				if errors.Is(err, domain.ErrBackend) || errors.Is(err, domain.ErrBackendTimeout) {
					return "", err
				}
				continue // history not ready yet
			}
			if entry.Status.StatusStr == "error" {
				return "", &domain.BackendError{BackendID: backend.ID, Detail: "remote execution error"}
			}
			if u, ok := firstArtifact(backend, entry); ok {
				return u, nil
			}
		}
	}
}

func (c *Client) fetchHistory(ctx context.Context, backend *model.BackendDescriptor, promptID string) (*historyEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.Endpoint+"/history/"+promptID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(backend.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &domain.BackendError{BackendID: backend.ID, Detail: fmt.Sprintf("history http %d", resp.StatusCode)}
	}
	var payload map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	entry, ok := payload[promptID]
	if !ok {
		return nil, domain.ErrNotFound // still queued
	}
	return &entry, nil
}

func firstArtifact(backend *model.BackendDescriptor, entry *historyEntry) (string, bool) {
	for _, out := range entry.Outputs {
		arts := out.Images
		if len(arts) == 0 {
			arts = out.Videos
		}
		for _, a := range arts {
			if a.Type == "temp" {
				continue
			}
			q := url.Values{}
			q.Set("filename", a.Filename)
			if a.Subfolder != "" {
				q.Set("subfolder", a.Subfolder)
			}
			q.Set("type", a.Type)
			return backend.Endpoint + "/view?" + q.Encode(), true
		}
	}
	return "", false
}

// Abort interrupts the currently running prompt. Best effort only.
func (c *Client) Abort(ctx context.Context, job *model.Job, backend *model.BackendDescriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.Endpoint+"/interrupt", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.BackendError{BackendID: backend.ID, Detail: fmt.Sprintf("interrupt http %d", resp.StatusCode)}
	}
	return nil
}

func classifyTransport(backendID string, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %s", domain.ErrBackendTimeout, ue.Op)
	}
	return &domain.BackendError{BackendID: backendID, Detail: err.Error()}
}

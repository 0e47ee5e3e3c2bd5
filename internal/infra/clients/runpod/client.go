// Package runpod speaks the serverless backend protocol: submit a flat
// payload, then poll the status endpoint through its string state machine
// (IN_QUEUE / IN_PROGRESS / COMPLETED / FAILED). Unrecognized states are
// treated as transient and polled through, never as failures.
package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
)

// Compile-time assurance this client satisfies the port
var _ adapter.ExecutionClient = (*Client)(nil)

const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
	statusFailed     = "FAILED"
	statusCancelled  = "CANCELLED"
)

type Client struct {
	http         *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	log          *zerolog.Logger

	// remote ids of in-flight jobs, for best-effort aborts
	mu      sync.Mutex
	handles map[string]string
}

func NewClient(pollInterval, pollTimeout time.Duration, log *zerolog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 15 * time.Minute
	}
	return &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		log:          log,
		handles:      make(map[string]string),
	}
}

func (c *Client) Kind() model.BackendKind { return model.BackendKindServerless }

func (c *Client) setHandle(jobID, remoteID string) {
	c.mu.Lock()
	c.handles[jobID] = remoteID
	c.mu.Unlock()
}

func (c *Client) takeHandle(jobID string) string {
	c.mu.Lock()
	id := c.handles[jobID]
	delete(c.handles, jobID)
	c.mu.Unlock()
	return id
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Error  string         `json:"error"`
	Output map[string]any `json:"output"`
}

func (c *Client) Execute(ctx context.Context, job *model.Job, graph *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
	start := time.Now()
	remoteID, err := c.submit(ctx, graph, backend)
	if err != nil {
		return nil, err
	}
	c.setHandle(job.ID, remoteID)
	defer c.takeHandle(job.ID)
	c.log.Debug().Str("job_id", job.ID).Str("remote_id", remoteID).Str("backend_id", backend.ID).Msg("payload submitted")

	outURL, err := c.waitForOutput(ctx, backend, remoteID)
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
	body, err := json.Marshal(graph.Payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.Endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(backend.ID, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: http %d", domain.ErrBackendRejected, resp.StatusCode)
	case resp.StatusCode >= 300:
		return "", &domain.BackendError{BackendID: backend.ID, Detail: fmt.Sprintf("run http %d", resp.StatusCode)}
	}
	var rr runResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil || rr.ID == "" {
		return "", &domain.BackendError{BackendID: backend.ID, Detail: "malformed run response"}
	}
	return rr.ID, nil
}

func (c *Client) waitForOutput(ctx context.Context, backend *model.BackendDescriptor, remoteID string) (string, error) {
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
			st, err := c.fetchStatus(ctx, backend, remoteID)
			if err != nil {
				if errors.Is(err, domain.ErrBackendTimeout) {
					continue // a single slow poll is not a job failure
				}
				return "", err
			}
			switch strings.ToUpper(st.Status) {
			case statusCompleted:
				return extractOutputURL(st.Output, backend)
			case statusFailed:
				detail := st.Error
				if detail == "" {
					detail = "remote reported FAILED"
				}
				return "", &domain.BackendError{BackendID: backend.ID, Detail: detail}
			case statusCancelled:
				return "", &domain.BackendError{BackendID: backend.ID, Detail: "remote cancelled the run"}
			case statusInQueue, statusInProgress:
				// keep polling
			default:
				// Unrecognized status: transient, keep polling until the
				// overall timeout elapses.
			}
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, backend *model.BackendDescriptor, remoteID string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.Endpoint+"/status/"+remoteID, nil)
	if err != nil {
		return nil, err
	}
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(backend.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &domain.BackendError{BackendID: backend.ID, Detail: fmt.Sprintf("status http %d", resp.StatusCode)}
	}
	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, &domain.BackendError{BackendID: backend.ID, Detail: "malformed status response"}
	}
	return &st, nil
}

func extractOutputURL(output map[string]any, backend *model.BackendDescriptor) (string, error) {
	for _, key := range []string{"url", "image_url", "video_url", "output_url"} {
		if v, ok := output[key].(string); ok && v != "" {
			return v, nil
		}
	}
	if imgs, ok := output["images"].([]any); ok && len(imgs) > 0 {
		if s, ok := imgs[0].(string); ok && s != "" {
			return s, nil
		}
		if m, ok := imgs[0].(map[string]any); ok {
			if s, ok := m["url"].(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", &domain.BackendError{BackendID: backend.ID, Detail: "completed run carried no output reference"}
}

// Abort cancels the remote run if we still hold its handle. Best effort.
func (c *Client) Abort(ctx context.Context, job *model.Job, backend *model.BackendDescriptor) error {
	remoteID := c.takeHandle(job.ID)
	if remoteID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.Endpoint+"/cancel/"+remoteID, nil)
	if err != nil {
		return err
	}
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.BackendError{BackendID: backend.ID, Detail: fmt.Sprintf("cancel http %d", resp.StatusCode)}
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

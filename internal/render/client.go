package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lilseedabe/FlickMV-sub003/internal/config"
	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// ServiceClient talks to the external render service over HTTP: one call to
// start a task, then status polls until the task reaches a terminal state.
type ServiceClient struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
}

type startTaskRequest struct {
	JobID     string          `json:"job_id"`
	ProjectID string          `json:"project_id"`
	Settings  json.RawMessage `json:"settings"`
}

type startTaskResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatusResponse struct {
	Status   string  `json:"status"` // pending | running | succeeded | failed
	Progress int     `json:"progress"`
	Step     string  `json:"step"`
	Output   *struct {
		URL      string  `json:"url"`
		Key      string  `json:"key"`
		Size     int64   `json:"size"`
		Duration float64 `json:"duration"`
	} `json:"output"`
	Error *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Transient bool   `json:"transient"`
	} `json:"error"`
}

func NewServiceClient(cfg *config.RenderConfig) *ServiceClient {
	return &ServiceClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:      cfg.ServiceURL,
		pollInterval: cfg.PollInterval,
	}
}

// IsConfigured returns true if the client has a service URL.
func (c *ServiceClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *ServiceClient) Render(ctx context.Context, job *model.Job, report ProgressFunc) (*model.Output, error) {
	var started startTaskResponse
	err := c.post(ctx, "/render", &startTaskRequest{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Settings:  job.Settings,
	}, &started)
	if err != nil {
		// Unreachable service is worth another attempt later.
		return nil, model.TransientRenderError("RENDER_UNAVAILABLE", err.Error())
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.abort(started.TaskID)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var status taskStatusResponse
		if err := c.get(ctx, "/render/"+started.TaskID, &status); err != nil {
			if ctx.Err() != nil {
				c.abort(started.TaskID)
				return nil, ctx.Err()
			}
			return nil, model.TransientRenderError("RENDER_POLL_FAILED", err.Error())
		}

		switch status.Status {
		case "running":
			report(status.Progress, status.Step)
		case "succeeded":
			if status.Output == nil {
				return nil, model.FatalRenderError("RENDER_NO_OUTPUT", "render service reported success without output")
			}
			return &model.Output{
				URL:      status.Output.URL,
				Key:      status.Output.Key,
				Size:     status.Output.Size,
				Duration: status.Output.Duration,
			}, nil
		case "failed":
			code, message, transient := "RENDER_FAILED", "render service reported failure", false
			if status.Error != nil {
				code, message, transient = status.Error.Code, status.Error.Message, status.Error.Transient
			}
			if transient {
				return nil, model.TransientRenderError(code, message)
			}
			return nil, model.FatalRenderError(code, message)
		}
	}
}

// abort tells the render service to stop a task. Best-effort with its own
// short deadline; the caller has already decided the job's fate.
func (c *ServiceClient) abort(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render/"+taskID+"/abort", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

func (c *ServiceClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *ServiceClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

func (c *ServiceClient) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("render service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// Package agent is the HTTP relay to the external scoring/training
// service. Kestrel never runs models itself; it ships sanitized CSV
// batches out and relays training lifecycle calls.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/tabular"
)

// Client talks to one scoring agent endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a relay client from the agent configuration.
func NewClient(cfg domain.AgentConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ScoreRequest carries one appraisal batch to the agent.
type ScoreRequest struct {
	Batch    *domain.Batch
	Filename string            // name of the CSV part, defaults to batch.csv
	Params   map[string]string // policy parameters forwarded as form fields
}

// ScoreResponse is the agent's run result.
type ScoreResponse struct {
	RunID     string            `json:"run_id"`
	Decisions []domain.Decision `json:"decisions,omitempty"`
}

// Score uploads the batch as a multipart CSV and returns the agent's run
// result.
func (c *Client) Score(ctx context.Context, req *ScoreRequest) (*ScoreResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for k, v := range req.Params {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", k, err)
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "batch.csv"
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create csv part: %w", err)
	}
	if err := tabular.EncodeBatch(part, req.Batch); err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/agents/credit_appraisal/run", &body)
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var out ScoreResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrainRequest starts a training job from staged feedback files.
type TrainRequest struct {
	FeedbackPaths []string `json:"feedback_paths"`
	BaseModel     string   `json:"base_model,omitempty"`
}

// TrainResponse identifies the started job.
type TrainResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status,omitempty"`
}

// Train starts a candidate training job on the agent.
func (c *Client) Train(ctx context.Context, req *TrainRequest) (*TrainResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal train request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/training/train", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build train request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out TrainResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Promote promotes the last candidate model to production.
func (c *Client) Promote(ctx context.Context) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/training/promote", nil)
	if err != nil {
		return nil, fmt.Errorf("build promote request: %w", err)
	}

	var out map[string]any
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProductionMeta fetches the agent's current production model metadata.
func (c *Client) ProductionMeta(ctx context.Context) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/training/production_meta", nil)
	if err != nil {
		return nil, fmt.Errorf("build production meta request: %w", err)
	}

	var out map[string]any
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks agent reachability via the production metadata endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ProductionMeta(ctx)
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent %s returned %d: %s", req.URL.Path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent response from %s: %w", req.URL.Path, err)
	}
	return nil
}

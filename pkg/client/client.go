package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finbase/stockpulse/pkg/types"
)

// Client wraps the orchestrator HTTP API for CLI and programmatic use
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given orchestrator address
// (e.g. http://localhost:8620)
func NewClient(addr string) *Client {
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartResponse is the submission acknowledgement
type StartResponse struct {
	AnalysisID string       `json:"analysis_id"`
	Status     types.Status `json:"status"`
	Message    string       `json:"message"`
}

// ControlResponse is the pause/resume/stop acknowledgement
type ControlResponse struct {
	AnalysisID string `json:"analysis_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// BatchResult is one entry of a batch submission response
type BatchResult struct {
	AnalysisID string       `json:"analysis_id,omitempty"`
	Status     types.Status `json:"status,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Start submits one analysis
func (c *Client) Start(ctx context.Context, req types.AnalysisRequest) (*StartResponse, error) {
	var resp StartResponse
	if err := c.post(ctx, "/analysis/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartBatch submits several analyses in one request
func (c *Client) StartBatch(ctx context.Context, reqs []types.AnalysisRequest) ([]BatchResult, error) {
	var resp struct {
		Results []BatchResult `json:"results"`
	}
	if err := c.post(ctx, "/analysis/start/batch", reqs, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Pause requests a pause of a running analysis
func (c *Client) Pause(ctx context.Context, analysisID string) (*ControlResponse, error) {
	return c.control(ctx, analysisID, "pause")
}

// Resume requests a resume of a paused analysis
func (c *Client) Resume(ctx context.Context, analysisID string) (*ControlResponse, error) {
	return c.control(ctx, analysisID, "resume")
}

// Stop requests a stop; the worker finalizes at its next safe point
func (c *Client) Stop(ctx context.Context, analysisID string) (*ControlResponse, error) {
	return c.control(ctx, analysisID, "stop")
}

func (c *Client) control(ctx context.Context, analysisID, action string) (*ControlResponse, error) {
	var resp ControlResponse
	if err := c.post(ctx, "/analysis/"+analysisID+"/"+action, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the full task record
func (c *Client) Status(ctx context.Context, analysisID string) (*types.Task, error) {
	var task types.Task
	if err := c.get(ctx, "/analysis/"+analysisID+"/status", &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Result fetches the result of a completed analysis
func (c *Client) Result(ctx context.Context, analysisID string) (*types.Result, error) {
	var result types.Result
	if err := c.get(ctx, "/analysis/"+analysisID+"/result", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History fetches the ordered snapshot history
func (c *Client) History(ctx context.Context, analysisID string) ([]*types.Task, error) {
	var resp struct {
		History []*types.Task `json:"history"`
	}
	if err := c.get(ctx, "/analysis/"+analysisID+"/history", &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach orchestrator: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

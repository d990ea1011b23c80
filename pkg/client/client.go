// Package client talks to the dealflow HTTP API. *Client satisfies
// sequencer.Backend, so a Sequencer can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/service"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/pkg/errors"
)

// APIError is a non-2xx answer from the server. Unwrap exposes the matching
// sentinel error (storage.ErrNotFound, service.ErrDefaultStage, ...) when the
// server reported a known code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dealflow API %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_found":
		return storage.ErrNotFound
	case "invalid_input":
		return service.ErrInvalidInput
	case "invalid_order":
		return service.ErrInvalidOrder
	case "default_stage":
		return service.ErrDefaultStage
	case "pipeline_has_stages":
		return service.ErrPipelineHasStages
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListPipelines(ctx context.Context) ([]models.Pipeline, error) {
	var out []models.Pipeline
	err := c.do(ctx, http.MethodGet, "/pipelines", nil, &out)
	return out, err
}

func (c *Client) GetPipeline(ctx context.Context, id int64) (models.Pipeline, error) {
	var out models.Pipeline
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/pipelines/%d", id), nil, &out)
	return out, err
}

func (c *Client) CreatePipeline(ctx context.Context, name, description string, isDefault bool) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	body := map[string]interface{}{"name": name, "description": description, "is_default": isDefault}
	err := c.do(ctx, http.MethodPost, "/pipelines", body, &out)
	return out.ID, err
}

func (c *Client) UpdatePipeline(ctx context.Context, id int64, patch models.PipelinePatch) (models.Pipeline, error) {
	var out models.Pipeline
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/pipelines/%d", id), patch, &out)
	return out, err
}

func (c *Client) DeletePipeline(ctx context.Context, id int64, force bool) error {
	path := fmt.Sprintf("/pipelines/%d", id)
	if force {
		path += "?" + url.Values{"force": {"true"}}.Encode()
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListStages(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	var out []models.Stage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/pipelines/%d/stages", pipelineID), nil, &out)
	return out, err
}

func (c *Client) GetStage(ctx context.Context, id int64) (models.Stage, error) {
	var out models.Stage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/stages/%d", id), nil, &out)
	return out, err
}

func (c *Client) CreateStage(ctx context.Context, pipelineID int64, in models.StageInput) (models.Stage, error) {
	var out models.Stage
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/pipelines/%d/stages", pipelineID), in, &out)
	return out, err
}

func (c *Client) UpdateStage(ctx context.Context, id int64, patch models.StagePatch) (models.Stage, error) {
	var out models.Stage
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/stages/%d", id), patch, &out)
	return out, err
}

func (c *Client) DeleteStage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/stages/%d", id), nil, nil)
}

func (c *Client) ReorderStages(ctx context.Context, pipelineID int64, ids []int64) error {
	body := map[string][]int64{"ids": ids}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/pipelines/%d/stages/order", pipelineID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Code = payload.Code
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

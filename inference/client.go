// Package inference talks to a model server speaking the KServe v2 /
// Triton HTTP inference protocol and prepares image tensors for it.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maternify/backend/resilience"
)

// Model names served by the inference server.
const (
	ModelFetalPlanes       = "fetal_planes"
	ModelHeadCircumference = "head_circumference"
	ModelImageEnhancement  = "image_enhancement"
	ModelHealthRisk        = "health_risk"
)

// ErrNotConfigured is returned when no inference server URL is set.
var ErrNotConfigured = errors.New("inference server not configured")

// Tensor is one named input or output of an inference request.
type Tensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type inferRequest struct {
	Inputs []Tensor `json:"inputs"`
}

type inferResponse struct {
	ModelName string   `json:"model_name"`
	Outputs   []Tensor `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Client struct {
	baseURL string
	http    *http.Client
	guard   *resilience.Guard
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		guard:   resilience.NewGuard("inference", 30*time.Second),
	}
}

// Configured reports whether a server URL was provided.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Infer runs model on the given inputs and returns its outputs in server order.
func (c *Client) Infer(ctx context.Context, model string, inputs ...Tensor) ([]Tensor, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(inferRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	res, err := c.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		url := fmt.Sprintf("%s/v2/models/%s/infer", c.baseURL, model)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			msg := string(payload)
			var e errorResponse
			if json.Unmarshal(payload, &e) == nil && e.Error != "" {
				msg = e.Error
			}
			return nil, &resilience.StatusError{Service: "inference " + model, StatusCode: resp.StatusCode, Body: msg}
		}

		var out inferResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return out.Outputs, nil
	})
	if err != nil {
		return nil, err
	}

	outputs := res.([]Tensor)
	slog.Info("Inference completed", "model", model, "outputs", len(outputs))
	return outputs, nil
}

// Ready checks the model readiness endpoint.
func (c *Client) Ready(ctx context.Context, model string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v2/models/%s/ready", c.baseURL, model), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %s not ready: %d", model, resp.StatusCode)
	}
	return nil
}

// FP32 builds a float tensor input.
func FP32(name string, shape []int, data []float32) Tensor {
	return Tensor{Name: name, Shape: shape, Datatype: "FP32", Data: data}
}

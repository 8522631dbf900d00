package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/types"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicDefaultVersion = "2023-06-01"
	anthropicDefaultModel   = "claude-3-5-haiku-latest"
	// Anthropic accepts temperatures up to 1.0.
	anthropicMaxTemperature = 1.0
)

// AnthropicAdapter handles communication with the Anthropic Messages API.
type AnthropicAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicAdapter(name string, cfg config.ProviderConfig, client *http.Client) *AnthropicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = anthropicDefaultVersion
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = anthropicDefaultModel
	}
	if cfg.MaxTemperature <= 0 || cfg.MaxTemperature > anthropicMaxTemperature {
		cfg.MaxTemperature = anthropicMaxTemperature
	}
	return &AnthropicAdapter{name: name, cfg: cfg, client: client}
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) Call(ctx context.Context, req *types.NormalizedRequest) (*types.ProviderResult, error) {
	if err := validate(req, limits{maxOutputTokens: a.cfg.MaxOutputTokens, maxTemperature: a.cfg.MaxTemperature}); err != nil {
		return nil, err
	}
	httpReq, err := a.TransformRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(a.name, err)
	}
	return a.TransformResponse(resp)
}

func (a *AnthropicAdapter) TransformRequest(ctx context.Context, req *types.NormalizedRequest) (*http.Request, error) {
	system, user := buildPrompt(req)
	temperature := req.Parameters.Temperature

	body := anthropicRequestBody{
		Model:       modelFor(req, a.cfg.DefaultModel),
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: user}},
		MaxTokens:   req.Parameters.MaxTokens,
		Temperature: &temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

func (a *AnthropicAdapter) TransformResponse(resp *http.Response) (*types.ProviderResult, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(a.name, fmt.Errorf("read anthropic response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(a.name, resp.StatusCode, resp.Header, body)
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(body, &antResp); err != nil {
		return nil, &types.ProviderError{
			Kind: types.ProviderTransient, Provider: a.name, StatusCode: resp.StatusCode,
			Message: "malformed response body", Err: err,
		}
	}

	usage := types.TokenUsage{
		Input:  antResp.Usage.InputTokens,
		Output: antResp.Usage.OutputTokens,
		Total:  antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
	}

	if antResp.StopReason == "refusal" {
		return nil, &types.ProviderError{
			Kind: types.ProviderContentPolicy, Provider: a.name, StatusCode: resp.StatusCode,
			Message: "model refused the request", PartialUsage: &usage,
		}
	}

	var content string
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &types.ProviderResult{
		Content:    content,
		Usage:      usage,
		Model:      antResp.Model,
		ProviderID: a.name,
		RawMetadata: map[string]any{
			"id":            antResp.ID,
			"finish_reason": mapStopReason(antResp.StopReason),
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

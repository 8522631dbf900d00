package adapters

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/types"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAIAdapter calls OpenAI-compatible chat completion APIs through the official SDK.
type OpenAIAdapter struct {
	name   string
	model  string
	limits limits
	client openai.Client
}

func NewOpenAIAdapter(name string, cfg config.ProviderConfig, httpClient *http.Client) *OpenAIAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries belong to the orchestrator.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	for k, v := range cfg.Headers {
		if v != "" {
			opts = append(opts, option.WithHeader(k, v))
		}
	}

	model := cfg.DefaultModel
	if model == "" {
		model = openAIDefaultModel
	}
	return &OpenAIAdapter{
		name:   name,
		model:  model,
		limits: limits{maxOutputTokens: cfg.MaxOutputTokens, maxTemperature: cfg.MaxTemperature},
		client: openai.NewClient(opts...),
	}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) Call(ctx context.Context, req *types.NormalizedRequest) (*types.ProviderResult, error) {
	if err := validate(req, a.limits); err != nil {
		return nil, err
	}

	system, user := buildPrompt(req)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelFor(req, a.model)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(req.Parameters.Temperature),
		MaxTokens:   openai.Int(int64(req.Parameters.MaxTokens)),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.classify(err)
	}

	usage := types.TokenUsage{
		Input:  int(resp.Usage.PromptTokens),
		Output: int(resp.Usage.CompletionTokens),
		Total:  int(resp.Usage.TotalTokens),
	}
	if len(resp.Choices) == 0 {
		return nil, &types.ProviderError{
			Kind: types.ProviderTransient, Provider: a.name,
			Message: "response has no choices", PartialUsage: &usage,
		}
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, &types.ProviderError{
			Kind: types.ProviderContentPolicy, Provider: a.name,
			Message: "completion stopped by content filter", PartialUsage: &usage,
		}
	}

	return &types.ProviderResult{
		Content:    choice.Message.Content,
		Usage:      usage,
		Model:      string(resp.Model),
		ProviderID: a.name,
		RawMetadata: map[string]any{
			"id":            resp.ID,
			"finish_reason": string(choice.FinishReason),
		},
	}, nil
}

func (a *OpenAIAdapter) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		body := apiErr.Message
		if apiErr.Code != "" {
			body = apiErr.Code + ": " + body
		}
		return classifyStatus(a.name, apiErr.StatusCode, header, []byte(body))
	}
	return classifyTransportError(a.name, err)
}

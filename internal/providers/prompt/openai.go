package prompt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient is the slice of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Client     ChatClient
	Timeout    time.Duration
	Fallback   Expander
	OnFallback func(reason string, err error)
}

type OpenAIExpander struct {
	client     ChatClient
	model      string
	timeout    time.Duration
	fallback   Expander
	onFallback func(reason string, err error)
}

const openAIDefaultTimeout = 15 * time.Second

// NewOpenAIClient builds a go-openai client for an OpenAI-compatible endpoint.
// It is shared by the expander and the key normalizer.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAIExpander wires a chat client with a fallback expander. Without an
// API key or client every call goes straight to the fallback.
func NewOpenAIExpander(opts OpenAIOptions) *OpenAIExpander {
	client := opts.Client
	if client == nil && strings.TrimSpace(opts.APIKey) != "" {
		client = NewOpenAIClient(opts.APIKey, opts.BaseURL, opts.HTTPClient)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = openAIDefaultTimeout
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticExpander()
	}
	return &OpenAIExpander{
		client:     client,
		model:      model,
		timeout:    timeout,
		fallback:   fallback,
		onFallback: opts.OnFallback,
	}
}

func (o *OpenAIExpander) Expand(ctx context.Context, req ExpandRequest) (*ExpandResult, error) {
	if o.client == nil {
		return o.useFallback(ctx, req, "missing_api_key", nil)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.4,
		MaxTokens:   220,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You write precise visual descriptions for asset generators. You only output the description."},
			{Role: openai.ChatMessageRoleUser, Content: buildExpandInstruction(req)},
		},
	})
	if err != nil {
		return o.useFallback(ctx, req, requestFailureReason(err), err)
	}
	if len(resp.Choices) == 0 {
		return o.useFallback(ctx, req, "empty_choices", errors.New("no choices"))
	}
	text, err := cleanExpansion(resp.Choices[0].Message.Content)
	if err != nil {
		return o.useFallback(ctx, req, expansionFailureReason(err), err)
	}
	return &ExpandResult{
		Prompt:   text,
		Metadata: map[string]string{"model": o.model},
		Provider: openAIProviderName,
	}, nil
}

func (o *OpenAIExpander) useFallback(ctx context.Context, req ExpandRequest, reason string, fallbackErr error) (*ExpandResult, error) {
	o.emitFallback(reason, fallbackErr)
	res, err := o.fallback.Expand(ctx, req)
	if err != nil || res == nil {
		res, _ = NewStaticExpander().Expand(ctx, req)
	}
	if res.Provider == "" {
		res.Provider = staticProviderName
	}
	res.Metadata = ensureMetadata(res.Metadata)
	if reason != "" {
		res.Metadata["fallback_reason"] = reason
	}
	return res, nil
}

func (o *OpenAIExpander) emitFallback(reason string, err error) {
	if o.onFallback != nil {
		o.onFallback(reason, err)
	}
}

func requestFailureReason(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "http_request"
}

func expansionFailureReason(err error) string {
	switch {
	case errors.Is(err, errEmptyExpansion):
		return "empty_response"
	case errors.Is(err, errExpansionShort):
		return "too_short"
	case errors.Is(err, errExpansionTooLong):
		return "too_long"
	default:
		return "parse_payload"
	}
}

var _ Expander = (*OpenAIExpander)(nil)

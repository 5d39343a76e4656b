// Package normalize reduces free-text prompts to canonical lookup keys.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"assetforge/internal/domain"
)

const (
	defaultTimeout = 4 * time.Second
	maxKeyLength   = 32
	emptyPromptKey = "asset"
)

// Classifier is the slice of the OpenAI client the normalizer needs.
type Classifier interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures a Normalizer.
type Options struct {
	Classifier Classifier
	Model      string
	Timeout    time.Duration
	OnFallback func(reason string, err error)
}

// Normalizer maps a raw prompt to a canonical key. The classifier path is
// bounded by Timeout; every failure falls back to the folded raw prompt.
type Normalizer struct {
	classifier Classifier
	model      string
	timeout    time.Duration
	onFallback func(reason string, err error)
	group      singleflight.Group
}

// New builds a Normalizer. A nil classifier means fallback-only.
func New(opts Options) *Normalizer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Normalizer{
		classifier: opts.Classifier,
		model:      model,
		timeout:    timeout,
		onFallback: opts.OnFallback,
	}
}

// Reduce always returns a non-empty key. Concurrent calls for the same
// provider and prompt share one classifier round trip.
func (n *Normalizer) Reduce(ctx context.Context, provider domain.Provider, rawPrompt string) string {
	fallback := n.Fallback(rawPrompt)
	if n.classifier == nil || strings.TrimSpace(rawPrompt) == "" {
		return fallback
	}
	flightKey := string(provider) + "\x00" + fallback
	v, _, _ := n.group.Do(flightKey, func() (any, error) {
		key, err := n.classify(ctx, provider, rawPrompt)
		if err != nil {
			n.emitFallback(fallbackReason(err), err)
			return fallback, nil
		}
		return key, nil
	})
	if key, ok := v.(string); ok && key != "" {
		return key
	}
	return fallback
}

// Fallback is the deterministic key: lowercased, trimmed, whitespace collapsed.
func (n *Normalizer) Fallback(rawPrompt string) string {
	key := strings.Join(strings.Fields(foldCase(rawPrompt)), " ")
	if key == "" {
		return emptyPromptKey
	}
	return key
}

var (
	errEmptyAnswer     = errors.New("classifier returned no usable answer")
	errMalformedAnswer = errors.New("classifier answer rejected")
)

func (n *Normalizer) classify(ctx context.Context, provider domain.Provider, rawPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.classifier.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       n.model,
		Temperature: 0,
		MaxTokens:   12,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(provider)},
			{Role: openai.ChatMessageRoleUser, Content: rawPrompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyAnswer
	}
	return n.sanitize(provider, resp.Choices[0].Message.Content)
}

func systemPrompt(provider domain.Provider) string {
	if provider == domain.ProviderSkybox {
		return "You label environment descriptions. Reply with a short lowercase slug of at most four words joined by hyphens that names the scene (for example: misty-pine-forest). Reply with the slug only."
	}
	return "You label 3D object requests. Reply with the single core noun, in lowercase singular form, that names the physical object being requested (for example: 'a rusty iron sword' -> sword). Reply with the noun only."
}

// sanitize constrains the classifier answer to [a-z0-9-], bounded length and,
// for models, a single word.
func (n *Normalizer) sanitize(provider domain.Provider, answer string) (string, error) {
	answer = foldCase(strings.TrimSpace(answer))
	answer = strings.Trim(answer, " \t\r\n\"'`.,;:!")
	if answer == "" {
		return "", errEmptyAnswer
	}
	fields := strings.Fields(answer)
	if provider != domain.ProviderSkybox && len(fields) > 1 {
		return "", fmt.Errorf("%w: expected one word, got %q", errMalformedAnswer, answer)
	}
	joined := strings.Join(fields, "-")
	var sb strings.Builder
	for _, r := range joined {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		case unicode.IsLetter(r):
			return "", fmt.Errorf("%w: unsupported character %q", errMalformedAnswer, r)
		}
	}
	key := strings.Trim(sb.String(), "-")
	if key == "" {
		return "", errEmptyAnswer
	}
	if len(key) > maxKeyLength {
		return "", fmt.Errorf("%w: %d characters", errMalformedAnswer, len(key))
	}
	return key, nil
}

// foldCase lowercases with Unicode rules. Casers are stateful, so each call
// gets its own.
func foldCase(s string) string {
	return cases.Lower(language.Und).String(s)
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errEmptyAnswer):
		return "empty_answer"
	case errors.Is(err, errMalformedAnswer):
		return "malformed_answer"
	default:
		return "classifier_error"
	}
}

func (n *Normalizer) emitFallback(reason string, err error) {
	if n.onFallback != nil {
		n.onFallback(reason, err)
	}
}

package normalize

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"assetforge/internal/domain"
)

type stubClassifier struct {
	calls  atomic.Int32
	answer string
	err    error
	delay  time.Duration
}

func (s *stubClassifier) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.answer}}},
	}, nil
}

func TestReduceUsesClassifierAnswer(t *testing.T) {
	n := New(Options{Classifier: &stubClassifier{answer: " Chair.\n"}})
	if got := n.Reduce(context.Background(), domain.ProviderModel, "a sturdy wooden chair"); got != "chair" {
		t.Fatalf("Reduce = %q, want chair", got)
	}
}

func TestReduceSkyboxSlug(t *testing.T) {
	n := New(Options{Classifier: &stubClassifier{answer: "Misty Pine Forest"}})
	if got := n.Reduce(context.Background(), domain.ProviderSkybox, "a misty pine forest at dawn"); got != "misty-pine-forest" {
		t.Fatalf("Reduce = %q, want misty-pine-forest", got)
	}
}

func TestReduceFallbacks(t *testing.T) {
	cases := []struct {
		name       string
		classifier *stubClassifier
		reason     string
	}{
		{name: "error", classifier: &stubClassifier{err: errors.New("unreachable")}, reason: "classifier_error"},
		{name: "empty", classifier: &stubClassifier{answer: "  "}, reason: "empty_answer"},
		{name: "multi_word_model", classifier: &stubClassifier{answer: "wooden chair"}, reason: "malformed_answer"},
		{name: "too_long", classifier: &stubClassifier{answer: "supercalifragilisticexpialidociouschair"}, reason: "malformed_answer"},
		{name: "non_ascii", classifier: &stubClassifier{answer: "stuhlé"}, reason: "malformed_answer"},
		{name: "timeout", classifier: &stubClassifier{answer: "chair", delay: time.Second}, reason: "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotReason string
			n := New(Options{
				Classifier: tc.classifier,
				Timeout:    20 * time.Millisecond,
				OnFallback: func(reason string, err error) { gotReason = reason },
			})
			got := n.Reduce(context.Background(), domain.ProviderModel, "  A Sturdy   Wooden Chair ")
			if got != "a sturdy wooden chair" {
				t.Fatalf("Reduce = %q, want folded prompt", got)
			}
			if gotReason != tc.reason {
				t.Fatalf("fallback reason = %q, want %q", gotReason, tc.reason)
			}
		})
	}
}

func TestReduceWithoutClassifier(t *testing.T) {
	n := New(Options{})
	if got := n.Reduce(context.Background(), domain.ProviderModel, "Sword"); got != "sword" {
		t.Fatalf("Reduce = %q, want sword", got)
	}
	if got := n.Reduce(context.Background(), domain.ProviderModel, "   "); got != emptyPromptKey {
		t.Fatalf("Reduce(empty) = %q, want %q", got, emptyPromptKey)
	}
}

func TestReduceSharesConcurrentClassifierCalls(t *testing.T) {
	stub := &stubClassifier{answer: "lamp", delay: 50 * time.Millisecond}
	n := New(Options{Classifier: stub, Timeout: time.Second})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := n.Reduce(context.Background(), domain.ProviderModel, "brass desk lamp"); got != "lamp" {
				t.Errorf("Reduce = %q, want lamp", got)
			}
		}()
	}
	wg.Wait()
	if calls := stub.calls.Load(); calls >= 8 {
		t.Fatalf("classifier calls = %d, want shared calls", calls)
	}
}

package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mecha/internal/llm"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			fl.Flush()
		}
	}))
}

func codestoryCreds(url string) llm.Credentials {
	return llm.CodeStoryCredentials{APIKey: "test-key", BaseURL: url}
}

func chatReq(model llm.LLMType) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:    model,
		Messages: []llm.Message{llm.UserMessage("hello")},
	}
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []llm.StreamChunk
}

func (r *chunkRecorder) sink(c llm.StreamChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *chunkRecorder) all() []llm.StreamChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llm.StreamChunk(nil), r.chunks...)
}

func TestStreamDeltasInOrder(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"he"}}]}`,
		`{"choices":[{"delta":{"content":"llo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		"[DONE]",
	)
	defer srv.Close()

	rec := &chunkRecorder{}
	text, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), rec.sink)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if text != "hello" {
		t.Fatalf("final text %q", text)
	}

	chunks := rec.all()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	var concat string
	terminals := 0
	for _, c := range chunks {
		concat += c.Delta
		if c.FinishReason != llm.FinishNone {
			terminals++
		}
	}
	if concat != text {
		t.Fatalf("concat(deltas) %q != final %q", concat, text)
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", terminals)
	}
	if last := chunks[len(chunks)-1]; last.FinishReason != llm.FinishStop || last.Cumulative != "hello" {
		t.Fatalf("bad terminal chunk: %+v", last)
	}
}

func TestStreamSynthesizesTerminalOnDone(t *testing.T) {
	// Some proxies omit finish_reason and only send [DONE].
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"ok"}}]}`,
		"[DONE]",
	)
	defer srv.Close()

	rec := &chunkRecorder{}
	if _, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), rec.sink); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	chunks := rec.all()
	if len(chunks) == 0 || chunks[len(chunks)-1].FinishReason != llm.FinishStop {
		t.Fatalf("missing synthesized terminal chunk: %+v", chunks)
	}
}

func TestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), llm.Discard)
	var rl *llm.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("retry after %v", rl.RetryAfter)
	}
	if !llm.IsRetriable(err) {
		t.Fatal("rate limit must be retriable for failover")
	}
}

func TestServerErrorIsProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), llm.Discard)
	if !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestReconnectOnceBeforeFirstToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the stream before any payload.
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	text, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), llm.Discard)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if text != "ok" {
		t.Fatalf("final text %q", text)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one reconnect, saw %d calls", calls.Load())
	}
}

func TestNoReconnectAfterTokens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fl.Flush()
		// Stream drops mid-response.
	}))
	defer srv.Close()

	_, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), llm.Discard)
	var si *llm.StreamInterruptedError
	if !errors.As(err, &si) {
		t.Fatalf("expected StreamInterruptedError, got %v", err)
	}
	if si.Partial != "par" {
		t.Fatalf("partial %q", si.Partial)
	}
	if calls.Load() != 1 {
		t.Fatalf("must not reconnect after tokens flowed, saw %d calls", calls.Load())
	}
}

func TestCancellationMidStream(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		fl.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rec := &chunkRecorder{}
	var cancelledAt atomic.Int64

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancelledAt.Store(time.Now().UnixNano())
		cancel()
	}()

	_, err := NewCodeStory().StreamCompletion(ctx, codestoryCreds(srv.URL), chatReq(llm.Gpt4), func(c llm.StreamChunk) {
		if at := cancelledAt.Load(); at != 0 && time.Now().UnixNano() > at {
			t.Errorf("chunk delivered after cancellation: %+v", c)
		}
		rec.sink(c)
	})
	var ce *llm.CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if ce.Reason != llm.CancelExplicit {
		t.Fatalf("reason %q", ce.Reason)
	}
}

func TestIdleTimeoutMapsToCancelledTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()

	_, _, err := streamOnce(context.Background(), streamRequest{
		URL:         srv.URL,
		Protocol:    protoSSE,
		Parse:       parseOpenAIChunk,
		Provider:    llm.ProviderCodeStory,
		IdleTimeout: 50 * time.Millisecond,
	}, llm.Discard)
	var ce *llm.CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if ce.Reason != llm.CancelTimeout {
		t.Fatalf("reason %q", ce.Reason)
	}
}

func TestMalformedChunk(t *testing.T) {
	srv := sseServer(t, `{not json`)
	defer srv.Close()

	_, err := NewCodeStory().StreamCompletion(context.Background(), codestoryCreds(srv.URL), chatReq(llm.Gpt4), llm.Discard)
	if !errors.Is(err, llm.ErrMalformedChunk) {
		t.Fatalf("expected ErrMalformedChunk, got %v", err)
	}
}

func TestModelMismatch(t *testing.T) {
	_, err := NewOpenAI().StreamCompletion(context.Background(), llm.OpenAICredentials{APIKey: "k"}, chatReq(llm.ClaudeSonnet), llm.Discard)
	if !errors.Is(err, llm.ErrProviderModelMismatch) {
		t.Fatalf("expected ErrProviderModelMismatch, got %v", err)
	}
}

func TestWrongCredentialVariantRejected(t *testing.T) {
	_, err := NewAnthropic().StreamCompletion(context.Background(), llm.OpenAICredentials{APIKey: "k"}, chatReq(llm.ClaudeSonnet), llm.Discard)
	if !errors.Is(err, llm.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestAnthropicEventParsing(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, line := range []string{
			`{"type":"message_start"}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi "}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"there"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
			`{"type":"message_stop"}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
			fl.Flush()
		}
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	text, err := NewAnthropic().StreamCompletion(context.Background(),
		llm.AnthropicCredentials{APIKey: "sk-test", BaseURL: srv.URL},
		chatReq(llm.ClaudeSonnet), rec.sink)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if text != "hi there" {
		t.Fatalf("final text %q", text)
	}
	if gotAuth != "sk-test" || gotVersion == "" {
		t.Fatalf("auth headers not sent: key=%q version=%q", gotAuth, gotVersion)
	}
	chunks := rec.all()
	if chunks[len(chunks)-1].FinishReason != llm.FinishStop {
		t.Fatalf("terminal chunk missing: %+v", chunks)
	}
}

func TestOllamaNDJSONParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/chat") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fl := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"loc"},"done":false}`)
		fl.Flush()
		fmt.Fprintln(w, `{"message":{"content":"al"},"done":true,"done_reason":"stop"}`)
		fl.Flush()
	}))
	defer srv.Close()

	text, err := NewOllama().StreamCompletion(context.Background(),
		llm.OllamaCredentials{BaseURL: srv.URL},
		chatReq(llm.Mixtral), llm.Discard)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if text != "local" {
		t.Fatalf("final text %q", text)
	}
}

func TestEmptyMessageListRejected(t *testing.T) {
	_, err := NewOpenAI().StreamCompletion(context.Background(), llm.OpenAICredentials{APIKey: "k"},
		llm.CompletionRequest{Model: llm.Gpt4}, llm.Discard)
	if !errors.Is(err, llm.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

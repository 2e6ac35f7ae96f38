package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers stream callbacks for assertions.
type collector struct {
	chunks   chan string
	complete chan struct{}
	errs     chan error
}

func newCollector() *collector {
	return &collector{
		chunks:   make(chan string, 64),
		complete: make(chan struct{}, 1),
		errs:     make(chan error, 1),
	}
}

func (c *collector) callbacks() StreamCallbacks {
	return StreamCallbacks{
		OnChunk:    func(accumulated string) { c.chunks <- accumulated },
		OnComplete: func() { c.complete <- struct{}{} },
		OnError:    func(err error) { c.errs <- err },
	}
}

func (c *collector) waitComplete(t *testing.T) {
	t.Helper()
	select {
	case <-c.complete:
	case err := <-c.errs:
		t.Fatalf("stream errored instead of completing: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream completion")
	}
}

func (c *collector) waitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.errs:
		return err
	case <-c.complete:
		t.Fatal("stream completed instead of erroring")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream error")
	}
	return nil
}

func (c *collector) drainChunks() []string {
	var out []string
	for {
		select {
		case s := <-c.chunks:
			out = append(out, s)
		default:
			return out
		}
	}
}

func deltaEvent(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func sseServer(t *testing.T, serve func(w http.ResponseWriter, r *http.Request, flush func())) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		serve(w, r, flusher.Flush)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func streamClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClientWithBaseURL("test-key", baseURL)
	require.NoError(t, err)
	return client
}

func TestStreamDeliversAccumulatedText(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		for _, frag := range []string{"Hel", "lo", " world"} {
			fmt.Fprint(w, deltaEvent(frag))
			flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flush()
	})

	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(context.Background(), &CompletionRequest{Model: "gpt-4o"}, col.callbacks())
	col.waitComplete(t)

	// Each delivery carries the whole text so far, never a bare fragment.
	assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, col.drainChunks())
}

func TestStreamSkipsMalformedEvents(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, deltaEvent("good"))
		fmt.Fprint(w, "data: {this is not json\n\n")
		fmt.Fprint(w, deltaEvent(" still good"))
		fmt.Fprint(w, "data: [DONE]\n\n")
		flush()
	})

	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(context.Background(), &CompletionRequest{}, col.callbacks())
	col.waitComplete(t)

	assert.Equal(t, []string{"good", "good still good"}, col.drainChunks())
}

func TestStreamIgnoresNonDataLines(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, deltaEvent("payload"))
		fmt.Fprint(w, "data: [DONE]\n\n")
		flush()
	})

	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(context.Background(), &CompletionRequest{}, col.callbacks())
	col.waitComplete(t)

	assert.Equal(t, []string{"payload"}, col.drainChunks())
}

func TestStreamCompletesOnServerCloseWithoutSentinel(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, deltaEvent("partial answer"))
		flush()
	})

	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(context.Background(), &CompletionRequest{}, col.callbacks())
	col.waitComplete(t)

	assert.Equal(t, []string{"partial answer"}, col.drainChunks())
}

func TestStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(context.Background(), &CompletionRequest{}, col.callbacks())

	err := col.waitError(t)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "overloaded")
	assert.Empty(t, col.drainChunks())
}

func TestStreamTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(context.Background(), &CompletionRequest{}, col.callbacks())
	require.Error(t, col.waitError(t))
}

func TestStreamAbortFiresNoTerminalCallback(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, deltaEvent("started"))
		flush()
		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	})

	c := streamClient(t, srv.URL)
	col := newCollector()

	handle := c.Stream(context.Background(), &CompletionRequest{}, col.callbacks())

	select {
	case got := <-col.chunks:
		assert.Equal(t, "started", got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}

	handle.Abort()
	// Abort is idempotent.
	handle.Abort()

	select {
	case <-col.complete:
		t.Fatal("OnComplete fired after abort")
	case err := <-col.errs:
		t.Fatalf("OnError fired after abort: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStreamCallerContextCancelIsAbort(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, deltaEvent("started"))
		flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := streamClient(t, srv.URL)
	col := newCollector()

	c.Stream(ctx, &CompletionRequest{}, col.callbacks())

	select {
	case <-col.chunks:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}

	cancel()

	select {
	case <-col.complete:
		t.Fatal("OnComplete fired after context cancellation")
	case err := <-col.errs:
		t.Fatalf("OnError fired after context cancellation: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBuildRequestDefaults(t *testing.T) {
	c := streamClient(t, "http://localhost:1")

	req := c.buildRequest(&CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, true)

	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 4096, req.MaxTokens)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

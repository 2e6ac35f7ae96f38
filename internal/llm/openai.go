package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/threadline-ai/chat-gateway/pkg/metrics"
)

// terminatorSentinel is the event payload signalling normal end-of-stream.
// It is matched exactly and never forwarded to the JSON parser.
const terminatorSentinel = "[DONE]"

// OpenAIClient speaks the OpenAI chat-completion wire format. Non-streaming
// requests go through the SDK; the streaming path reads the event frames
// itself because the session contract needs per-event parse tolerance and a
// cancellation/error distinction the SDK stream does not expose.
type OpenAIClient struct {
	api        *openai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenAIClient creates a client against the default OpenAI endpoint.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	return NewOpenAIClientWithBaseURL(apiKey, "https://api.openai.com/v1")
}

// NewOpenAIClientWithBaseURL creates a client against any OpenAI-compatible
// completion endpoint.
func NewOpenAIClientWithBaseURL(apiKey, baseURL string) (*OpenAIClient, error) {
	if baseURL == "" {
		return nil, errors.New("completion base URL is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &OpenAIClient{
		api:        openai.NewClientWithConfig(cfg),
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}
}

// Complete sends a blocking completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Stream opens a streaming completion request and returns an abort handle
// immediately. Event frames are read on a separate goroutine and delivered
// through the callbacks.
func (c *OpenAIClient) Stream(ctx context.Context, req *CompletionRequest, cb StreamCallbacks) StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	sess := newStreamSession(cb, cancel)

	go c.readStream(streamCtx, req, sess)

	return sess
}

func (c *OpenAIClient) readStream(ctx context.Context, req *CompletionRequest, sess *streamSession) {
	start := time.Now()

	payload, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		sess.fail(fmt.Errorf("failed to encode request: %w", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		sess.fail(fmt.Errorf("failed to build request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.finish(ctx, sess, err, start)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		sess.fail(&StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		})
		metrics.RecordStream(c.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// Blank separators, comments and named-event lines carry no
			// payload at this boundary.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if data == terminatorSentinel {
			c.finish(ctx, sess, nil, start)
			return
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// A single malformed event must not abort an otherwise
			// healthy stream.
			metrics.StreamChunksDropped.WithLabelValues(c.Name()).Inc()
			continue
		}

		// Fragments are optional per event; role-only chunks carry none.
		if len(chunk.Choices) > 0 {
			sess.appendFragment(chunk.Choices[0].Delta.Content)
		}
	}

	c.finish(ctx, sess, scanner.Err(), start)
}

// finish resolves a stream's outcome: nil error or server close means
// completion, a cancelled context means abort, anything else is a transport
// failure.
func (c *OpenAIClient) finish(ctx context.Context, sess *streamSession, err error, start time.Time) {
	elapsed := time.Since(start).Seconds()

	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		sess.markCanceled()
		metrics.RecordStream(c.Name(), "aborted", elapsed, 0, 0)
	case err != nil:
		sess.fail(err)
		metrics.RecordStream(c.Name(), "error", elapsed, 0, 0)
	default:
		sess.complete()
		// Streaming responses carry no usage block; estimate from length.
		estimated := len(sess.accumulated()) / 4
		metrics.RecordStream(c.Name(), "success", elapsed, 0, estimated)
	}
}

func (c *OpenAIClient) buildRequest(req *CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
}

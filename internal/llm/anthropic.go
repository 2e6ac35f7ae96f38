package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/threadline-ai/chat-gateway/pkg/metrics"
)

// AnthropicClient is the Anthropic completion provider. The SDK owns the
// wire format; its event stream is adapted onto the same session contract
// the OpenAI-wire client provides.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
	}
}

// Complete sends a blocking completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Stream opens a streaming completion request and returns an abort handle
// immediately.
func (c *AnthropicClient) Stream(ctx context.Context, req *CompletionRequest, cb StreamCallbacks) StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	sess := newStreamSession(cb, cancel)

	go func() {
		start := time.Now()
		stream := c.client.Messages.NewStreaming(streamCtx, c.buildParams(req))

		for stream.Next() {
			event := stream.Current()
			if event.Type == anthropic.MessageStreamEventTypeContentBlockDelta {
				if delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok &&
					delta.Type == "text_delta" {
					sess.appendFragment(delta.Text)
				}
			}
		}

		elapsed := time.Since(start).Seconds()
		err := stream.Err()
		switch {
		case streamCtx.Err() != nil || errors.Is(err, context.Canceled):
			sess.markCanceled()
			metrics.RecordStream(c.Name(), "aborted", elapsed, 0, 0)
		case err != nil:
			sess.fail(err)
			metrics.RecordStream(c.Name(), "error", elapsed, 0, 0)
		default:
			sess.complete()
			metrics.RecordStream(c.Name(), "success", elapsed, 0, len(sess.accumulated())/4)
		}
	}()

	return sess
}

func (c *AnthropicClient) buildParams(req *CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(messages),
	}
}

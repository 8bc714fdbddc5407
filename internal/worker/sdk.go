package worker

import (
	"context"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// sdkBackend is the SDK execution mode, backed by the official client
// library's streaming messages API.
type sdkBackend struct {
	client anthropic.Client
	model  string
}

func newSDKBackend(cfg *types.Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultModel
	}

	return &sdkBackend{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  modelID,
	}, nil
}

func (b *sdkBackend) Mode() types.IntegrationMode {
	return types.IntegrationSDK
}

func (b *sdkBackend) StartTurn(ctx context.Context, req TurnRequest) (Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: 8192,
		Messages:  toSDKMessages(req.Messages),
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	return &sdkStream{stream: stream}, nil
}

func (b *sdkBackend) Close() error {
	return nil
}

type sdkStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *sdkStream) Recv() (Chunk, error) {
	for s.stream.Next() {
		ev := s.stream.Current()
		switch event := ev.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := event.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					return Chunk{Delta: delta.Text}, nil
				}
			}
		}
	}

	if err := s.stream.Err(); err != nil {
		return Chunk{}, err
	}
	return Chunk{}, io.EOF
}

func (s *sdkStream) Close() {
	s.stream.Close()
}

func toSDKMessages(messages []types.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "user" {
			result = append(result, anthropic.NewUserMessage(block))
		} else {
			result = append(result, anthropic.NewAssistantMessage(block))
		}
	}
	return result
}

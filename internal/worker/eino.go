package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

const defaultModel = "claude-sonnet-4-20250514"

// einoBackend is the direct-API execution mode, backed by the Eino Claude
// chat model.
type einoBackend struct {
	chatModel model.ToolCallingChatModel
	model     string
}

func newEinoBackend(ctx context.Context, cfg *types.Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultModel
	}

	chatModel, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     modelID,
		MaxTokens: 8192,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &einoBackend{chatModel: chatModel, model: modelID}, nil
}

func (b *einoBackend) Mode() types.IntegrationMode {
	return types.IntegrationAPI
}

func (b *einoBackend) StartTurn(ctx context.Context, req TurnRequest) (Stream, error) {
	reader, err := b.chatModel.Stream(ctx, toEinoMessages(req.Messages))
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	return &einoStream{reader: reader}, nil
}

func (b *einoBackend) Close() error {
	return nil
}

// einoStream adapts an Eino stream reader to the Chunk contract. Chunk
// content from the model may arrive cumulative; delta is recovered by
// suffix comparison.
type einoStream struct {
	reader      *schema.StreamReader[*schema.Message]
	accumulated string
}

func (s *einoStream) Recv() (Chunk, error) {
	for {
		msg, err := s.reader.Recv()
		if err == io.EOF {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, err
		}

		if msg.Content == "" {
			continue
		}

		if len(msg.Content) > len(s.accumulated) && s.accumulated != "" &&
			msg.Content[:len(s.accumulated)] == s.accumulated {
			delta := msg.Content[len(s.accumulated):]
			s.accumulated = msg.Content
			return Chunk{Delta: delta}, nil
		}

		s.accumulated += msg.Content
		return Chunk{Delta: msg.Content}, nil
	}
}

func (s *einoStream) Close() {
	s.reader.Close()
}

func toEinoMessages(messages []types.Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		role := schema.Assistant
		if msg.Role == "user" {
			role = schema.User
		}
		result = append(result, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result
}

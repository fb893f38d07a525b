package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/rudnitski/HealthUp-sub005/internal/config"
)

// Service wraps the reasoning model with the agent's fixed tool schema bound
// at construction. Each Complete call receives the full running conversation
// and returns either plain text or a tool invocation; no other guarantee is
// assumed of the model.
type Service struct {
	chatModel model.ChatModel
}

// NewService creates the model from configuration and binds the tool schema.
func NewService(ctx context.Context, cfg config.AIConfig, tools []*schema.ToolInfo) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create chat model")
	}

	if err := chatModel.BindTools(tools); err != nil {
		return nil, errors.Wrap(err, "bind tool schema")
	}

	return &Service{chatModel: chatModel}, nil
}

// Complete runs one model call over the conversation.
func (s *Service) Complete(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	response, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, errors.Wrap(err, "run reasoning model")
	}

	log.Debug().Int("messages", len(messages)).Int("tool_calls", len(response.ToolCalls)).
		Int("content_length", len(response.Content)).Msg("model completion")
	return response, nil
}

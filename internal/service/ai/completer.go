package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Completer 是对单个大模型提供方的最小抽象：给定 system 与 user 文本，返回模型原始输出。
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatCompleter 通过 eino chain 调用任意 ChatModel（Ark 或 OpenAI 兼容的本地端点）。
type ChatCompleter struct {
	name  string
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewChatCompleter 编译 system + user 两段消息的 chain。
func NewChatCompleter(ctx context.Context, name string, chatModel model.ChatModel) (*ChatCompleter, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s chain: %w", name, err)
	}

	return &ChatCompleter{name: name, chain: runnable}, nil
}

// Name 返回提供方名称，用于日志与指标。
func (c *ChatCompleter) Name() string {
	return c.name
}

// Complete 执行一次非流式调用。
func (c *ChatCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.chain.Invoke(ctx, map[string]any{
		"system": system,
		"query":  user,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run %s chain: %w", c.name, err)
	}
	if msg == nil {
		return "", ErrEmptyResponse
	}
	return msg.Content, nil
}

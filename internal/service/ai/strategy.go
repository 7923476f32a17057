package ai

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrEmptyResponse 提供方调用成功但没有可用文本。
	ErrEmptyResponse = errors.New("provider returned no usable text")
	// ErrUnparseable 结构化输出三个解析阶段都失败。
	ErrUnparseable = errors.New("provider output could not be parsed")
)

// Outcome 是单个策略尝试的统一结果类型。
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeEmpty
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	default:
		return "error"
	}
}

// Result 描述一次策略尝试。非 Success 时 Err 一定非空。
type Result struct {
	Provider string
	Outcome  Outcome
	Text     string
	Parse    ParseKind
	Err      error
}

// Strategy 是降级链中的一环。Attempt 不返回 error，所有失败都折叠进 Result。
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, tc TurnContext) Result
}

// StructuredStrategy 要求模型返回单字段 JSON，并使用三段式容错解析。
type StructuredStrategy struct {
	completer     Completer
	previewBudget int
}

// NewStructuredStrategy 创建主提供方策略。
func NewStructuredStrategy(completer Completer, previewBudget int) *StructuredStrategy {
	return &StructuredStrategy{completer: completer, previewBudget: previewBudget}
}

func (s *StructuredStrategy) Name() string {
	return s.completer.Name()
}

func (s *StructuredStrategy) Attempt(ctx context.Context, tc TurnContext) Result {
	system, user := BuildStructuredPrompt(tc, s.previewBudget)

	raw, err := s.completer.Complete(ctx, system, user)
	if err != nil {
		return Result{Provider: s.Name(), Outcome: OutcomeError, Err: err}
	}

	parsed := ParseStructured(raw, QuestionField)
	if !parsed.OK() {
		return Result{Provider: s.Name(), Outcome: OutcomeEmpty, Parse: parsed.Kind, Err: ErrUnparseable}
	}

	return Result{Provider: s.Name(), Outcome: OutcomeSuccess, Text: parsed.Text, Parse: parsed.Kind}
}

// FreeformStrategy 使用自然语言指令，直接采用模型返回的文本。
type FreeformStrategy struct {
	completer Completer
}

// NewFreeformStrategy 创建备用提供方策略。
func NewFreeformStrategy(completer Completer) *FreeformStrategy {
	return &FreeformStrategy{completer: completer}
}

func (s *FreeformStrategy) Name() string {
	return s.completer.Name()
}

func (s *FreeformStrategy) Attempt(ctx context.Context, tc TurnContext) Result {
	raw, err := s.completer.Complete(ctx, "", BuildFreeformPrompt(tc))
	if err != nil {
		return Result{Provider: s.Name(), Outcome: OutcomeError, Err: err}
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{Provider: s.Name(), Outcome: OutcomeEmpty, Err: ErrEmptyResponse}
	}

	return Result{Provider: s.Name(), Outcome: OutcomeSuccess, Text: text, Parse: RawText}
}

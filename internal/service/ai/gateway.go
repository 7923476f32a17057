package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
)

// ErrGenerationFailed 表示所有提供方都没有产出问题。
var ErrGenerationFailed = errors.New("question generation failed")

// Question 是网关产出的评委问题。
type Question struct {
	Text     string
	Provider string
	Parse    ParseKind
}

// Gateway 按顺序尝试策略列表，每个策略每轮最多调用一次，不做重试。
type Gateway struct {
	strategies []Strategy
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// GatewayOption 配置 Gateway。
type GatewayOption func(*Gateway)

// WithTimeout 为每个策略单独设置超时，超时后继续尝试下一个策略。
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithLogger 注入 logger。
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMetrics 注入指标记录器。
func WithMetrics(m *metrics.Recorder) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway 创建网关，nil 策略会被忽略。
func NewGateway(strategies []Strategy, opts ...GatewayOption) *Gateway {
	g := &Gateway{}
	for _, s := range strategies {
		if s != nil {
			g.strategies = append(g.strategies, s)
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.OrNop(g.logger).Named("ai")
	return g
}

// Providers 返回按尝试顺序排列的提供方名称。
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.strategies))
	for _, s := range g.strategies {
		names = append(names, s.Name())
	}
	return names
}

// GenerateQuestion 返回第一个成功策略的结果；全部失败时返回包装了各次原因的 ErrGenerationFailed。
func (g *Gateway) GenerateQuestion(ctx context.Context, tc TurnContext) (*Question, error) {
	if len(g.strategies) == 0 {
		return nil, fmt.Errorf("%w: no provider configured", ErrGenerationFailed)
	}

	causes := make([]error, 0, len(g.strategies))
	for _, strategy := range g.strategies {
		res := g.attempt(ctx, strategy, tc)
		if res.Outcome == OutcomeSuccess {
			g.logger.Info("question generated",
				zap.String("session", tc.SessionID),
				zap.String("persona", tc.Persona.ID),
				zap.String("provider", res.Provider),
				zap.String("parse", res.Parse.String()),
				zap.String("text", logger.TruncateForLog(res.Text, 120)),
			)
			return &Question{Text: res.Text, Provider: res.Provider, Parse: res.Parse}, nil
		}

		g.logger.Warn("provider attempt failed",
			zap.String("session", tc.SessionID),
			zap.String("provider", res.Provider),
			zap.String("outcome", res.Outcome.String()),
			zap.Error(res.Err),
		)
		causes = append(causes, fmt.Errorf("%s: %w", res.Provider, res.Err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, errors.Join(causes...))
}

func (g *Gateway) attempt(ctx context.Context, strategy Strategy, tc TurnContext) (res Result) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Provider: strategy.Name(), Outcome: OutcomeError, Err: fmt.Errorf("provider panic: %v", r)}
		}
		if res.Provider == "" {
			res.Provider = strategy.Name()
		}
		if res.Outcome != OutcomeSuccess && res.Err == nil {
			res.Err = ErrEmptyResponse
		}
		g.metrics.ObserveProvider("generation", res.Provider, res.Outcome.String(), time.Since(start))
	}()

	return strategy.Attempt(callCtx, tc)
}

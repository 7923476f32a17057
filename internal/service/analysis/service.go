// Package analysis 对结束的面试记录进行评估打分。
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/ai"
)

const defaultTimeout = 30 * time.Second

var (
	errNoObject = errors.New("no json object in analysis output")
	errNoScores = errors.New("analysis output has no scores")
)

// Request 是一次评估的输入：完整、最终的对话记录。
type Request struct {
	SessionID    string
	Artifact     interview.Artifact
	Conversation []interview.Turn
}

// Analyzer 对整场面试做一次评估，任何失败都返回固定默认结果。
type Analyzer struct {
	completer ai.Completer
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Recorder
}

// Option 配置 Analyzer。
type Option func(*Analyzer)

// WithTimeout 限制评估调用的时长。
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// WithLogger 注入 logger。
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// WithMetrics 注入指标记录器。
func WithMetrics(m *metrics.Recorder) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// New 创建评估器。completer 为 nil 时总是返回默认结果。
func New(completer ai.Completer, opts ...Option) *Analyzer {
	a := &Analyzer{completer: completer, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logger.OrNop(a.logger).Named("analysis")
	return a
}

// payload 兼容旧字段名 confidence 与 detailedFeedback。
type payload struct {
	Engagement       *float64 `json:"engagement"`
	Confidence       *float64 `json:"confidence"`
	Accuracy         *float64 `json:"accuracy"`
	FacialExpression string   `json:"facialExpression"`
	BodyLanguage     string   `json:"bodyLanguage"`
	Summary          string   `json:"summary"`
	DetailedFeedback string   `json:"detailedFeedback"`
}

// Analyze 只调用一次模型。
func (a *Analyzer) Analyze(ctx context.Context, req Request) (result interview.AnalysisResult) {
	if a.completer == nil {
		a.logger.Warn("no analysis provider configured, using default result", zap.String("session", req.SessionID))
		return interview.DefaultAnalysis()
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panic: %v", r)
		}
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
			result = interview.DefaultAnalysis()
			a.logger.Warn("analysis failed, using default result",
				zap.String("session", req.SessionID),
				zap.Error(err),
			)
		}
		a.metrics.ObserveProvider("analysis", a.completer.Name(), outcome, time.Since(start))
	}()

	system, user := BuildPrompt(req)
	raw, err := a.completer.Complete(ctx, system, user)
	if err != nil {
		return result
	}

	result, err = Parse(raw)
	if err == nil {
		a.logger.Info("analysis ready",
			zap.String("session", req.SessionID),
			zap.Int("engagement", result.EngagementScore),
			zap.Int("accuracy", result.ContentAccuracyScore),
		)
	}
	return result
}

// BuildPrompt 生成评估 prompt。
func BuildPrompt(req Request) (system, user string) {
	system = "You are a pitch coach scoring a hackathon panel interview. Return JSON only."

	var b strings.Builder
	b.WriteString("BEHAVIORAL DATASHEET ANALYSIS\n")
	fmt.Fprintf(&b, "PROJECT: %s\n", strings.TrimSpace(req.Artifact.Name))
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(ai.RenderHistory(req.Conversation))
	b.WriteString("\n\n")
	b.WriteString("Evaluate the participant's engagement, the accuracy of their answers, and their facial expression and body language.\n")
	b.WriteString("Respond with a single JSON object:\n")
	b.WriteString(`{"engagement": 0-100, "accuracy": 0-100, "facialExpression": "one sentence", "bodyLanguage": "one sentence", "summary": "one paragraph"}`)
	return system, b.String()
}

// Parse 从模型输出中提取第一个 JSON 对象并转换为评估结果。分数被限制在 0..100，缺失的文本字段使用默认值。
func Parse(raw string) (interview.AnalysisResult, error) {
	object, ok := ai.ExtractObject(raw)
	if !ok {
		return interview.AnalysisResult{}, errNoObject
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return interview.AnalysisResult{}, fmt.Errorf("decode analysis object: %w", err)
	}

	var p payload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return interview.AnalysisResult{}, err
	}
	if err := decoder.Decode(fields); err != nil {
		return interview.AnalysisResult{}, fmt.Errorf("map analysis fields: %w", err)
	}

	engagement := p.Engagement
	if engagement == nil {
		engagement = p.Confidence
	}
	if engagement == nil && p.Accuracy == nil {
		return interview.AnalysisResult{}, errNoScores
	}

	def := interview.DefaultAnalysis()
	return interview.AnalysisResult{
		EngagementScore:      score(engagement, def.EngagementScore),
		ContentAccuracyScore: score(p.Accuracy, def.ContentAccuracyScore),
		Nonverbal: interview.NonverbalNotes{
			FacialExpression: text(p.FacialExpression, def.Nonverbal.FacialExpression),
			BodyLanguage:     text(p.BodyLanguage, def.Nonverbal.BodyLanguage),
		},
		Summary: text(p.Summary, text(p.DetailedFeedback, def.Summary)),
	}, nil
}

func score(v *float64, fallback int) int {
	if v == nil || math.IsNaN(*v) {
		return fallback
	}
	return int(math.Round(math.Min(100, math.Max(0, *v))))
}

func text(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

package interview

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/ai"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/analysis"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/speech"
)

const (
	defaultOpeningDelay  = 2 * time.Second
	defaultSpeechTimeout = 20 * time.Second
)

// QuestionGenerator 产出评委问题。
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, tc ai.TurnContext) (*ai.Question, error)
}

// Transcriber 把录音转换为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, audio []byte, format string) (string, error)
}

// SpeechSynthesizer 朗读评委问题，总是返回可播放的结果。
type SpeechSynthesizer interface {
	Speak(ctx context.Context, u speech.Utterance) speechmodel.Playback
}

// Analyzer 对结束的面试做评估。
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) model.AnalysisResult
}

// Dependencies 是编排器使用的外部网关。
type Dependencies struct {
	Personas    persona.Store
	Generator   QuestionGenerator
	Transcriber Transcriber
	Synthesizer SpeechSynthesizer
	Analyzer    Analyzer
}

// Input 是参与者的一次输入：文本或录音，开场轮可以为空。
type Input struct {
	Text        string
	Audio       []byte
	AudioFormat string
}

func (in Input) empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Audio) == 0
}

// Outcome 描述一次成功的 take-turn。
type Outcome struct {
	Question  string `json:"question,omitempty"`
	PersonaID string `json:"personaId,omitempty"`
	Provider  string `json:"provider,omitempty"`
	TurnCount int    `json:"turnCount"`
	Finished  bool   `json:"finished"`
}

// Orchestrator 驱动每一轮问答，并在预算耗尽时把会话推进到评估阶段。
type Orchestrator struct {
	deps            Dependencies
	openingDelay    time.Duration
	speechTimeout   time.Duration
	previewMaxChars int
	pick            func(n int) int
	launch          func(task func())
	logger          *zap.Logger
	metrics         *metrics.Recorder
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

// WithOpeningDelay 设置进入 Live 后到开场提问之间的延迟，0 表示立即提问。
func WithOpeningDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.openingDelay = d
	}
}

// WithSpeechTimeout 设置单次语音合成任务的超时。
func WithSpeechTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.speechTimeout = d
		}
	}
}

// WithPreviewMaxChars 限制材料预览长度。
func WithPreviewMaxChars(n int) Option {
	return func(o *Orchestrator) {
		o.previewMaxChars = n
	}
}

// WithPicker 替换非开场轮次的评委选择函数，返回值须在 [0, n) 内。
func WithPicker(pick func(n int) int) Option {
	return func(o *Orchestrator) {
		if pick != nil {
			o.pick = pick
		}
	}
}

// WithLauncher 替换语音任务的启动方式。
func WithLauncher(launch func(task func())) Option {
	return func(o *Orchestrator) {
		if launch != nil {
			o.launch = launch
		}
	}
}

// WithLogger 注入 logger。
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics 注入指标记录器。
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:            deps,
		openingDelay:    defaultOpeningDelay,
		speechTimeout:   defaultSpeechTimeout,
		previewMaxChars: DefaultPreviewChars,
		pick:            rand.IntN,
		launch:          func(task func()) { go task() },
	}
	if o.deps.Personas == nil {
		o.deps.Personas = persona.NewMemoryStore(persona.Seed())
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrNop(o.logger).Named("orchestrator")
	return o
}

// TakeTurn 推进一轮对话。被拒绝的调用不会产生任何可观察的变化；
// 可恢复的失败返回包装了 ErrTurnFailed 的错误，会话保持 Live。
func (o *Orchestrator) TakeTurn(ctx context.Context, s *Session, in Input) (Outcome, error) {
	s.mu.Lock()
	switch {
	case s.phase != model.PhaseLive:
		s.mu.Unlock()
		o.metrics.ObserveTurn("rejected")
		return Outcome{}, ErrNotLive
	case s.generating:
		s.mu.Unlock()
		o.metrics.ObserveTurn("rejected")
		return Outcome{}, ErrTurnInFlight
	case s.capturing:
		s.mu.Unlock()
		o.metrics.ObserveTurn("rejected")
		return Outcome{}, ErrCaptureActive
	}

	if s.turnCount >= model.MaxTurns {
		transcript, artifact := s.enterAnalysisLocked("turn budget exhausted")
		s.mu.Unlock()
		o.metrics.ObserveTurn("finished")
		o.analyze(ctx, s, artifact, transcript)
		return Outcome{TurnCount: model.MaxTurns, Finished: true}, nil
	}

	opening := s.turnCount == 0
	if in.empty() && !opening {
		s.mu.Unlock()
		o.metrics.ObserveTurn("rejected")
		return Outcome{}, ErrInputRequired
	}
	s.setGeneratingLocked(true)
	s.mu.Unlock()

	utterance := strings.TrimSpace(in.Text)
	if utterance == "" && len(in.Audio) > 0 {
		text, err := o.transcribe(ctx, s.id, in)
		if err != nil {
			return o.failTurn(s, err)
		}
		utterance = text
	}

	s.mu.Lock()
	if s.phase != model.PhaseLive {
		s.setGeneratingLocked(false)
		s.mu.Unlock()
		return Outcome{}, ErrSessionClosed
	}
	if utterance != "" {
		s.appendTurnLocked(model.Turn{Speaker: model.SpeakerParticipant, Text: utterance, CreatedAt: time.Now()})
	}
	// 只有无输入的首轮才由固定评委开场；开场失败后参与者先发言时随机选择评委。
	opening = opening && utterance == ""
	judge := o.selectPersona(opening)
	tc := ai.TurnContext{
		SessionID:       s.id,
		Artifact:        s.artifact,
		Persona:         judge,
		History:         s.conversationLocked(),
		LatestUtterance: utterance,
		Opening:         opening,
	}
	s.mu.Unlock()

	question, err := o.generate(ctx, tc)
	if err != nil {
		return o.failTurn(s, err)
	}

	s.mu.Lock()
	if s.phase != model.PhaseLive {
		s.setGeneratingLocked(false)
		s.mu.Unlock()
		o.logger.Info("discarding question for closed session", zap.String("session", s.id))
		return Outcome{}, ErrSessionClosed
	}
	s.appendTurnLocked(model.Turn{
		Speaker:   model.SpeakerPanelist,
		Text:      question.Text,
		PersonaID: judge.ID,
		CreatedAt: time.Now(),
	})
	s.turnCount++
	s.draft = ""
	s.setGeneratingLocked(false)
	s.emitLocked(EventTurnCountChanged, map[string]int{"turnCount": s.turnCount, "maxTurns": model.MaxTurns})

	out := Outcome{
		Question:  question.Text,
		PersonaID: judge.ID,
		Provider:  question.Provider,
		TurnCount: s.turnCount,
	}
	var (
		transcript []model.Turn
		artifact   model.Artifact
	)
	if s.turnCount >= model.MaxTurns {
		out.Finished = true
		transcript, artifact = s.enterAnalysisLocked("turn budget exhausted")
	}
	s.mu.Unlock()

	o.dispatchSpeech(s, speech.Utterance{SessionID: s.id, Text: question.Text, Persona: judge})
	o.metrics.ObserveTurn("success")

	if out.Finished {
		o.analyze(ctx, s, artifact, transcript)
	}
	return out, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, sessionID string, in Input) (string, error) {
	if o.deps.Transcriber == nil {
		return "", speech.ErrTranscriptionUnavailable
	}
	return o.deps.Transcriber.Transcribe(ctx, sessionID, in.Audio, in.AudioFormat)
}

func (o *Orchestrator) generate(ctx context.Context, tc ai.TurnContext) (*ai.Question, error) {
	if o.deps.Generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", ai.ErrGenerationFailed)
	}
	q, err := o.deps.Generator.GenerateQuestion(ctx, tc)
	if err != nil {
		return nil, err
	}
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty question", ai.ErrGenerationFailed)
	}
	q.Text = strings.TrimSpace(q.Text)
	return q, nil
}

// failTurn 结束一次失败的轮次：不追加评委发言，不消耗预算。
func (o *Orchestrator) failTurn(s *Session, cause error) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setGeneratingLocked(false)
	if s.phase != model.PhaseLive {
		return Outcome{}, ErrSessionClosed
	}

	notice := noticeFor(cause)
	s.emitLocked(EventRecoverableError, notice)
	o.metrics.ObserveTurn("failed")
	o.logger.Warn("turn failed",
		zap.String("session", s.id),
		zap.String("code", notice.Code),
		zap.Error(cause),
	)
	return Outcome{}, fmt.Errorf("%w: %w", ErrTurnFailed, cause)
}

func noticeFor(err error) ErrorNotice {
	switch {
	case errors.Is(err, speech.ErrEmptyTranscript):
		return ErrorNotice{Code: "empty_transcript", Message: "We couldn't make out any speech. Please try again."}
	case errors.Is(err, speech.ErrUnsupportedAudioFormat):
		return ErrorNotice{Code: "unsupported_audio_format", Message: "This recording format is not supported. Please record as Ogg/Opus or type your answer."}
	case errors.Is(err, speech.ErrTranscriptionUnavailable), errors.Is(err, speech.ErrTranscriptionFailed):
		return ErrorNotice{Code: "transcription_failed", Message: "Transcription failed. Please retry or type your answer."}
	default:
		return ErrorNotice{Code: "generation_failed", Message: "The panel could not respond right now. Please try again."}
	}
}

func (o *Orchestrator) selectPersona(opening bool) persona.Persona {
	if opening {
		if p, ok := o.deps.Personas.FindByID(persona.OpeningID); ok {
			return p
		}
	}
	panel := o.deps.Personas.List()
	if len(panel) == 0 {
		return persona.Persona{}
	}
	idx := o.pick(len(panel))
	if idx < 0 || idx >= len(panel) {
		idx = 0
	}
	return panel[idx]
}

// dispatchSpeech 启动独立的语音任务，不等待其完成；任务自带超时与 recover。
func (o *Orchestrator) dispatchSpeech(s *Session, u speech.Utterance) {
	if o.deps.Synthesizer == nil {
		return
	}
	o.launch(func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("speech task panicked", zap.String("session", u.SessionID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), o.speechTimeout)
		defer cancel()

		playback := o.deps.Synthesizer.Speak(ctx, u)
		s.emit(EventSpeechReady, playback)
	})
}

// analyze 运行唯一一次评估并把会话推进到 Terminal。评估失败时使用默认结果。
func (o *Orchestrator) analyze(ctx context.Context, s *Session, artifact model.Artifact, transcript []model.Turn) {
	result := o.safeAnalyze(context.WithoutCancel(ctx), analysis.Request{
		SessionID:    s.id,
		Artifact:     artifact,
		Conversation: transcript,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeLocked(result)
}

func (o *Orchestrator) safeAnalyze(ctx context.Context, req analysis.Request) (result model.AnalysisResult) {
	if o.deps.Analyzer == nil {
		return model.DefaultAnalysis()
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analyzer panicked", zap.String("session", req.SessionID), zap.Any("panic", r))
			result = model.DefaultAnalysis()
		}
	}()
	return o.deps.Analyzer.Analyze(ctx, req)
}

// openingTurn 由计时器或 GoLive 调用，错误已经通过事件通知前端。
func (o *Orchestrator) openingTurn(s *Session) {
	if _, err := o.TakeTurn(context.Background(), s, Input{}); err != nil {
		o.logger.Debug("opening turn did not complete", zap.String("session", s.id), zap.Error(err))
	}
}

package interview

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
)

// maxAudioBytes 限制单次录音的缓存大小。
const maxAudioBytes = 16 << 20

// Session 持有一场面试的全部状态。所有字段由 mu 保护；网络调用一律在锁外进行。
type Session struct {
	id        string
	createdAt time.Time
	orch      *Orchestrator
	sink      EventSink

	mu           sync.Mutex
	phase        model.Phase
	artifact     model.Artifact
	mediaReady   bool
	turnCount    int
	conversation []model.Turn
	draft        string
	generating   bool
	capturing    bool
	audio        bytes.Buffer
	analysis     *model.AnalysisResult
	openingTimer *time.Timer
}

// Snapshot 是会话状态的只读副本。
type Snapshot struct {
	ID           string                `json:"id"`
	Phase        model.Phase           `json:"phase"`
	Artifact     model.Artifact        `json:"artifact"`
	MediaReady   bool                  `json:"mediaReady"`
	TurnCount    int                   `json:"turnCount"`
	MaxTurns     int                   `json:"maxTurns"`
	Conversation []model.Turn          `json:"conversation"`
	Draft        string                `json:"draft"`
	Generating   bool                  `json:"generating"`
	Capturing    bool                  `json:"capturing"`
	Analysis     *model.AnalysisResult `json:"analysis,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

func newSession(id string, orch *Orchestrator, sink EventSink) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	return &Session{
		id:        id,
		createdAt: time.Now(),
		orch:      orch,
		sink:      sink,
		phase:     model.PhaseLanding,
	}
}

// ID 返回会话 ID。
func (s *Session) ID() string {
	return s.id
}

// Snapshot 返回当前状态的副本。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.id,
		Phase:        s.phase,
		Artifact:     s.artifact,
		MediaReady:   s.mediaReady,
		TurnCount:    s.turnCount,
		MaxTurns:     model.MaxTurns,
		Conversation: s.conversationLocked(),
		Draft:        s.draft,
		Generating:   s.generating,
		Capturing:    s.capturing,
		CreatedAt:    s.createdAt,
	}
	if s.analysis != nil {
		result := *s.analysis
		snap.Analysis = &result
	}
	return snap
}

// Phase 返回当前阶段。
func (s *Session) Phase() model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Setup 提交路演材料并进入 Setup 阶段。
func (s *Session) Setup(artifact model.Artifact) error {
	artifact.Name = strings.TrimSpace(artifact.Name)
	if artifact.Name == "" {
		return ErrArtifactRequired
	}
	if limit := s.orch.previewMaxChars; limit > 0 {
		if runes := []rune(artifact.Preview); len(runes) > limit {
			artifact.Preview = string(runes[:limit])
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseLanding {
		return fmt.Errorf("%w: setup from %s", ErrInvalidTransition, s.phase)
	}
	s.artifact = artifact
	s.transitionLocked(model.PhaseSetup)
	return nil
}

// ReportMedia 记录摄像头与麦克风的获取结果。失败时停留在 Setup 并推送可恢复错误。
func (s *Session) ReportMedia(ok bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseSetup {
		return fmt.Errorf("%w: media report in %s", ErrInvalidTransition, s.phase)
	}
	s.mediaReady = ok
	if !ok {
		msg := "Camera or microphone access failed. Check permissions and try again."
		if reason = strings.TrimSpace(reason); reason != "" {
			msg = fmt.Sprintf("%s (%s)", msg, reason)
		}
		s.emitLocked(EventRecoverableError, ErrorNotice{Code: "media_unavailable", Message: msg})
	}
	return nil
}

// GoLive 进入 Live 阶段，并在开场延迟后由评委发起第一问。
func (s *Session) GoLive() error {
	s.mu.Lock()
	if s.phase != model.PhaseSetup {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: go live from %s", ErrInvalidTransition, phase)
	}
	if !s.mediaReady {
		s.emitLocked(EventRecoverableError, ErrorNotice{
			Code:    "media_unavailable",
			Message: "Camera and microphone must be available before going live.",
		})
		s.mu.Unlock()
		return ErrMediaUnavailable
	}
	s.transitionLocked(model.PhaseLive)

	delay := s.orch.openingDelay
	if delay > 0 {
		s.openingTimer = time.AfterFunc(delay, func() {
			s.orch.openingTurn(s)
		})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.orch.openingTurn(s)
	return nil
}

// SetDraft 保存参与者尚未提交的文本。
func (s *Session) SetDraft(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.Before(model.PhaseAnalysis) {
		return ErrSessionClosed
	}
	s.draft = text
	return nil
}

// StartCapture 开始录音。录音与生成互斥。
func (s *Session) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.phase != model.PhaseLive:
		return ErrNotLive
	case s.capturing:
		return ErrCaptureActive
	case s.generating:
		return ErrTurnInFlight
	}
	s.capturing = true
	s.audio.Reset()
	s.emitLocked(EventCaptureChanged, map[string]bool{"capturing": true})
	return nil
}

// AppendAudio 追加一段录音数据。
func (s *Session) AppendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing {
		return ErrNotCapturing
	}
	if s.audio.Len()+len(chunk) > maxAudioBytes {
		return ErrAudioTooLarge
	}
	s.audio.Write(chunk)
	return nil
}

// StopCapture 结束录音并用录到的音频发起一轮对话。未在录音时为空操作。
func (s *Session) StopCapture(ctx context.Context, format string) (Outcome, error) {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return Outcome{}, nil
	}
	s.capturing = false
	blob := bytes.Clone(s.audio.Bytes())
	s.audio.Reset()
	s.emitLocked(EventCaptureChanged, map[string]bool{"capturing": false})

	if len(blob) == 0 {
		s.emitLocked(EventRecoverableError, ErrorNotice{Code: "no_audio", Message: "No audio was captured. Please try recording again."})
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %w", ErrTurnFailed, ErrNoAudioCaptured)
	}
	s.mu.Unlock()

	return s.orch.TakeTurn(ctx, s, Input{Audio: blob, AudioFormat: format})
}

// TakeTurn 以文本或音频推进一轮对话。
func (s *Session) TakeTurn(ctx context.Context, in Input) (Outcome, error) {
	return s.orch.TakeTurn(ctx, s, in)
}

// End 由参与者主动结束面试。Live 中结束会进入评估；尚未开始的会话直接终止，不做评估。
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case model.PhaseAnalysis, model.PhaseTerminal:
		s.mu.Unlock()
		return nil
	case model.PhaseLive:
		transcript, artifact := s.enterAnalysisLocked("ended")
		s.mu.Unlock()
		s.orch.analyze(ctx, s, artifact, transcript)
		return nil
	default:
		s.stopOpeningLocked()
		s.emitLocked(EventMediaReleased, map[string]string{"reason": "abandoned"})
		s.transitionLocked(model.PhaseTerminal)
		s.mu.Unlock()
		return nil
	}
}

// close 在会话被丢弃时停止计时器。
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopOpeningLocked()
}

func (s *Session) stopOpeningLocked() {
	if s.openingTimer != nil {
		s.openingTimer.Stop()
		s.openingTimer = nil
	}
}

// enterAnalysisLocked 执行 Live→Analysis 转换，释放媒体，并返回供评估使用的最终对话。
func (s *Session) enterAnalysisLocked(reason string) ([]model.Turn, model.Artifact) {
	s.stopOpeningLocked()
	s.capturing = false
	s.audio.Reset()
	s.transitionLocked(model.PhaseAnalysis)
	s.emitLocked(EventMediaReleased, map[string]string{"reason": reason})
	return s.conversationLocked(), s.artifact
}

// completeLocked 保存评估结果并进入 Terminal。
func (s *Session) completeLocked(result model.AnalysisResult) {
	s.analysis = &result
	s.emitLocked(EventAnalysisReady, result)
	s.transitionLocked(model.PhaseTerminal)
}

func (s *Session) transitionLocked(next model.Phase) {
	s.orch.logger.Info("session phase changed",
		zap.String("session", s.id),
		zap.String("from", string(s.phase)),
		zap.String("to", string(next)),
	)
	s.phase = next
	s.orch.metrics.ObserveTransition(string(next))
	s.emitLocked(EventPhaseChanged, map[string]model.Phase{"phase": next})
}

func (s *Session) setGeneratingLocked(v bool) {
	if s.generating == v {
		return
	}
	s.generating = v
	s.emitLocked(EventThinkingChanged, map[string]bool{"thinking": v})
}

func (s *Session) appendTurnLocked(turn model.Turn) {
	s.conversation = append(s.conversation, turn)
	s.emitLocked(EventConversationUpdated, s.conversationLocked())
}

func (s *Session) conversationLocked() []model.Turn {
	out := make([]model.Turn, len(s.conversation))
	copy(out, s.conversation)
	return out
}

func (s *Session) emitLocked(t EventType, data any) {
	s.emit(t, data)
}

// emit 不依赖会话锁，异步任务直接调用。
func (s *Session) emit(t EventType, data any) {
	s.sink.Emit(Event{Type: t, SessionID: s.id, Data: data, Timestamp: time.Now()})
}

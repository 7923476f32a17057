package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
)

var errEmptyPlayback = errors.New("backend returned no audio")

// Utterance 是一次需要朗读的评委发言。
type Utterance struct {
	SessionID string
	Text      string
	Persona   persona.Persona
}

// Backend 是语音合成降级链中的一环。
type Backend interface {
	Name() string
	Speak(ctx context.Context, u Utterance) (*speechmodel.Playback, error)
}

// VolcengineBackend 使用评委的 SpeakerAlias 调用火山引擎 TTS。
type VolcengineBackend struct {
	client *VolcengineTTSClient
}

// NewVolcengineBackend 包装 TTS 客户端。
func NewVolcengineBackend(client *VolcengineTTSClient) *VolcengineBackend {
	return &VolcengineBackend{client: client}
}

func (b *VolcengineBackend) Name() string {
	return "volcengine"
}

func (b *VolcengineBackend) Speak(ctx context.Context, u Utterance) (*speechmodel.Playback, error) {
	resp, err := b.client.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID: u.SessionID,
		Text:      u.Text,
		Voice:     u.Persona.SpeakerAlias,
		Format:    "mp3",
	})
	if err != nil {
		return nil, err
	}
	return &speechmodel.Playback{
		SessionID: u.SessionID,
		PersonaID: u.Persona.ID,
		Backend:   b.Name(),
		Format:    resp.Format,
		Audio:     resp.AudioData,
	}, nil
}

// DeviceBackend 让浏览器使用本地 speechSynthesis，总是成功。
type DeviceBackend struct{}

func (DeviceBackend) Name() string {
	return "device"
}

func (DeviceBackend) Speak(_ context.Context, u Utterance) (*speechmodel.Playback, error) {
	return devicePlayback(u), nil
}

func devicePlayback(u Utterance) *speechmodel.Playback {
	pitch := u.Persona.LocalPitch
	if pitch <= 0 {
		pitch = 1
	}
	return &speechmodel.Playback{
		SessionID: u.SessionID,
		PersonaID: u.Persona.ID,
		Backend:   DeviceBackend{}.Name(),
		Local: &speechmodel.LocalSpeech{
			Text:            u.Text,
			Lang:            "en-US",
			PreferredVoices: []string{"Google"},
			Pitch:           pitch,
			Rate:            1,
		},
	}
}

// Synthesizer 按顺序尝试已配置的后端，全部失败时退回本地合成。Speak 不会返回错误，
// 降级只记录日志和指标，不会通知参与者。
type Synthesizer struct {
	backends []Backend
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

// NewSynthesizer 创建合成网关，nil 后端会被忽略。
func NewSynthesizer(backends []Backend, log *zap.Logger, m *metrics.Recorder) *Synthesizer {
	s := &Synthesizer{
		logger:  logger.OrNop(log).Named("synthesizer"),
		metrics: m,
	}
	for _, b := range backends {
		if b != nil {
			s.backends = append(s.backends, b)
		}
	}
	return s
}

// Backends 返回远程后端的名称，不包含本地兜底。
func (s *Synthesizer) Backends() []string {
	names := make([]string, 0, len(s.backends))
	for _, b := range s.backends {
		names = append(names, b.Name())
	}
	return names
}

// Speak 返回第一个成功后端的结果。
func (s *Synthesizer) Speak(ctx context.Context, u Utterance) speechmodel.Playback {
	for i, b := range s.backends {
		playback, err := s.try(ctx, b, u)
		if err == nil {
			if i > 0 {
				s.metrics.ObserveSpeechFallback(b.Name())
			}
			return *playback
		}
		s.logger.Warn("speech backend failed, falling back",
			zap.String("session", u.SessionID),
			zap.String("backend", b.Name()),
			zap.String("persona", u.Persona.ID),
			zap.Error(err),
		)
	}

	if len(s.backends) > 0 {
		s.metrics.ObserveSpeechFallback(DeviceBackend{}.Name())
	}
	return *devicePlayback(u)
}

func (s *Synthesizer) try(ctx context.Context, b Backend, u Utterance) (playback *speechmodel.Playback, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			playback, err = nil, fmt.Errorf("backend panic: %v", r)
		}
		if err == nil && (playback == nil || (len(playback.Audio) == 0 && playback.Local == nil)) {
			playback, err = nil, errEmptyPlayback
		}
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		s.metrics.ObserveProvider("synthesis", b.Name(), outcome, time.Since(start))
	}()
	return b.Speak(ctx, u)
}

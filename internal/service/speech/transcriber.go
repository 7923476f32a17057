package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
)

var (
	// ErrTranscriptionFailed 识别服务调用失败（网络、解码、配额等）。
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrEmptyTranscript 识别成功但没有文本，或没有采集到音频。
	ErrEmptyTranscript = errors.New("transcription produced no text")
	// ErrTranscriptionUnavailable 没有配置识别服务。
	ErrTranscriptionUnavailable = errors.New("transcription is not configured")
)

// Recognizer 是单个语音识别提供方。
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// Transcriber 把一段录音转换为文本。每次调用只请求一次提供方，不重试；
// 所有失败都以带类型的 error 返回，调用方拿到的文本一定为空。
type Transcriber struct {
	recognizer Recognizer
	language   string
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// NewTranscriber 创建识别网关。recognizer 为 nil 时网关处于不可用状态。
func NewTranscriber(recognizer Recognizer, language string, log *zap.Logger, m *metrics.Recorder) *Transcriber {
	return &Transcriber{
		recognizer: recognizer,
		language:   language,
		logger:     logger.OrNop(log).Named("transcriber"),
		metrics:    m,
	}
}

// Available 表示是否配置了识别服务。
func (t *Transcriber) Available() bool {
	return t != nil && t.recognizer != nil
}

// Transcribe 返回识别文本。
func (t *Transcriber) Transcribe(ctx context.Context, sessionID string, audio []byte, format string) (text string, err error) {
	if !t.Available() {
		return "", ErrTranscriptionUnavailable
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: no audio captured", ErrEmptyTranscript)
	}

	start := time.Now()
	outcome := metrics.OutcomeSuccess
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: provider panic: %v", ErrTranscriptionFailed, r)
		}
		if err != nil {
			outcome = metrics.OutcomeError
			if errors.Is(err, ErrEmptyTranscript) {
				outcome = metrics.OutcomeEmpty
			}
			t.logger.Warn("transcription failed",
				zap.String("session", sessionID),
				zap.Int("bytes", len(audio)),
				zap.Error(err),
			)
		}
		t.metrics.ObserveProvider("transcription", t.recognizer.Name(), outcome, time.Since(start))
	}()

	resp, err := t.recognizer.Recognize(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audio),
		Format:    format,
		Language:  t.language,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", ErrEmptyTranscript
	}

	text = strings.TrimSpace(resp.Text)
	t.logger.Debug("transcribed audio",
		zap.String("session", sessionID),
		zap.String("text", logger.TruncateForLog(text, 80)),
	)
	return text, nil
}

package interview

import "errors"

// 被拒绝的状态转换，调用方应当把它们视为冲突，状态不会发生任何变化。
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("transition not allowed in current phase")
	ErrNotLive           = errors.New("session is not live")
	ErrTurnInFlight      = errors.New("a panel response is already being generated")
	ErrCaptureActive     = errors.New("audio capture is in progress")
	ErrNotCapturing      = errors.New("audio capture is not active")
	ErrMediaUnavailable  = errors.New("camera or microphone has not been acquired")
	ErrSessionClosed     = errors.New("session has left the live phase")
)

// 输入不合法。
var (
	ErrArtifactRequired = errors.New("a pitch artifact is required")
	ErrInputRequired    = errors.New("participant input is required after the opening turn")
	ErrAudioTooLarge    = errors.New("captured audio exceeds the size limit")
)

// ErrTurnFailed 包装一次可恢复的失败（识别为空、识别失败、生成失败），会话保持 Live 可重试。
var ErrTurnFailed = errors.New("turn failed")

// ErrNoAudioCaptured 停止录音时没有任何音频数据。
var ErrNoAudioCaptured = errors.New("no audio captured")

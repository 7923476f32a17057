package speech

import (
	"io"
	"time"
)

// ASRRequest 是一次完整录音的识别请求。参与者松开录音键后整段提交，不做流式识别。
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`             // wav, pcm, ogg(opus), mp3；其他格式会被拒绝
	Language  string    `json:"language,omitempty"` // 为空时使用 SpeechConfig.ASRLanguage
}

// ASRResponse 是识别出的完整文本。Text 可能为空，由调用方决定是否视为失败。
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // 音频时长，毫秒
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TTSRequest 朗读一条评委提问。Voice 是评委的 SpeakerAlias；Speed 和 Volume 为 0 时使用服务端默认值。
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed,omitempty"`
	Volume    float32 `json:"volume,omitempty"`
	Format    string  `json:"format"`
	Language  string  `json:"language,omitempty"`
}

// TTSResponse 是合成好的整段音频。
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	Duration  int64     `json:"duration"` // 毫秒，服务端未返回时为 0
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

package speech

// SpeechConfig 是火山引擎识别与合成客户端共用的凭证和默认参数。
type SpeechConfig struct {
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
	// APIKey 只在 AccessToken 为空时作为令牌使用。
	APIKey         string `json:"apiKey,omitempty"`
	ConcurrentMode bool   `json:"concurrentMode"` // false 时使用小时版资源

	ASRLanguage string `json:"asrLanguage"`

	// TTSVoice 是评委没有配置 SpeakerAlias 时的兜底音色。
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	Timeout int `json:"timeout"` // 秒
}

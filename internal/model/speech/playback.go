package speech

// Playback 是一次语音合成的结果：要么是可直接播放的音频，要么是交给浏览器本地合成的指令。
type Playback struct {
	SessionID string       `json:"sessionId"`
	PersonaID string       `json:"personaId"`
	Backend   string       `json:"backend"`
	Format    string       `json:"format,omitempty"`
	Audio     []byte       `json:"audio,omitempty"` // JSON 编码为 base64
	Local     *LocalSpeech `json:"local,omitempty"`
}

// LocalSpeech 描述浏览器 speechSynthesis 的参数。PreferredVoices 按顺序匹配 voice 名称，
// 都不可用时选择 Lang 对应的任意声音，再不行使用第一个可用声音。
type LocalSpeech struct {
	Text            string   `json:"text"`
	Lang            string   `json:"lang"`
	PreferredVoices []string `json:"preferredVoices,omitempty"`
	Pitch           float64  `json:"pitch"`
	Rate            float64  `json:"rate"`
}

// IsLocal 表示该结果需要客户端本地合成。
func (p Playback) IsLocal() bool {
	return p.Local != nil
}

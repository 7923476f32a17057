package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
)

const elevenLabsDefaultWSURL = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsOptions ElevenLabs stream-input 的连接参数
type ElevenLabsOptions struct {
	APIKey          string
	Model           string
	OutputFormat    string
	WSURL           string
	Stability       float64
	SimilarityBoost float64
}

// ElevenLabsClient 通过 stream-input websocket 合成整段文本，按评委的 VoiceID 选择音色。
type ElevenLabsClient struct {
	opts   ElevenLabsOptions
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewElevenLabsClient 创建客户端，未填写的参数使用默认值。
func NewElevenLabsClient(opts ElevenLabsOptions, log *zap.Logger) *ElevenLabsClient {
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	if opts.Model == "" {
		opts.Model = "eleven_multilingual_v2"
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "mp3_44100_128"
	}
	if opts.WSURL == "" {
		opts.WSURL = elevenLabsDefaultWSURL
	}
	if opts.Stability <= 0 {
		opts.Stability = 0.5
	}
	if opts.SimilarityBoost <= 0 {
		opts.SimilarityBoost = 0.75
	}
	return &ElevenLabsClient{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.OrNop(log).Named("elevenlabs"),
	}
}

// Name 返回后端名称。
func (c *ElevenLabsClient) Name() string {
	return "elevenlabs"
}

// Speak 通过 ElevenLabs 合成评委提问。
func (c *ElevenLabsClient) Speak(ctx context.Context, u Utterance) (*speechmodel.Playback, error) {
	audio, err := c.Synthesize(ctx, u.Persona.VoiceID, u.Text)
	if err != nil {
		return nil, err
	}
	return &speechmodel.Playback{
		SessionID: u.SessionID,
		PersonaID: u.Persona.ID,
		Backend:   c.Name(),
		Format:    audioFormat(c.opts.OutputFormat),
		Audio:     audio,
	}, nil
}

type elevenLabsFrame struct {
	Audio    string `json:"audio"`
	IsFinal  *bool  `json:"isFinal"`
	IsFinal2 *bool  `json:"is_final"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

func (f elevenLabsFrame) final() bool {
	return (f.IsFinal != nil && *f.IsFinal) || (f.IsFinal2 != nil && *f.IsFinal2)
}

// Synthesize 发送完整文本并收集全部音频帧，直到服务端标记结束。
func (c *ElevenLabsClient) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, errors.New("elevenlabs voice id is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyTTSText
	}

	wsURL, err := c.streamURL(voiceID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", c.opts.APIKey)
	conn, _, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial elevenlabs: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	// 首帧必须是单个空格，用来携带音色参数
	if err := conn.WriteJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]float64{
			"stability":        c.opts.Stability,
			"similarity_boost": c.opts.SimilarityBoost,
		},
	}); err != nil {
		return nil, fmt.Errorf("send elevenlabs init: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": text + " ", "flush": true}); err != nil {
		return nil, fmt.Errorf("send elevenlabs text: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return nil, fmt.Errorf("send elevenlabs eos: %w", err)
	}

	var audio []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				return audio, nil
			}
			return nil, fmt.Errorf("read elevenlabs frame: %w", err)
		}

		var frame elevenLabsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("skip non-json elevenlabs frame", zap.Error(err))
			continue
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("elevenlabs error %s: %s", frame.Error, frame.Message)
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, fmt.Errorf("decode elevenlabs audio: %w", err)
			}
			audio = append(audio, chunk...)
		}
		if frame.final() {
			if len(audio) == 0 {
				return nil, errors.New("elevenlabs returned no audio")
			}
			return audio, nil
		}
	}
}

func (c *ElevenLabsClient) streamURL(voiceID string) (string, error) {
	raw := strings.ReplaceAll(c.opts.WSURL, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", c.opts.Model)
	q.Set("output_format", c.opts.OutputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// audioFormat 把 mp3_44100_128 这类输出格式归一成容器名
func audioFormat(output string) string {
	name, _, _ := strings.Cut(output, "_")
	if name == "" {
		return "mp3"
	}
	return name
}

package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
)

const (
	ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceSeed    = "seed-tts-2.0"
	ttsResourceMega    = "volc.megatts.default"
)

var errEmptyTTSText = errors.New("tts text is empty")

// 评委音色别名到火山引擎英文音色的映射
var speakerAliases = map[string]string{
	"panel-corporate": "en_male_glen_emo_v2_mars_bigtts",
	"panel-research":  "en_female_candice_emo_v2_mars_bigtts",
	"panel-vc":        "en_male_corey_emo_v2_mars_bigtts",
	"panel-community": "en_female_skye_emo_v2_mars_bigtts",
	"en_default":      "en_female_amy_jupiter_bigtts",
}

// VolcengineTTSClient 火山引擎单向流式语音合成客户端
type VolcengineTTSClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	logger   *zap.Logger
	endpoint string
}

// NewVolcengineTTSClient 创建 TTS 客户端
func NewVolcengineTTSClient(config *speechmodel.SpeechConfig, log *zap.Logger) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger:   logger.OrNop(log).Named("tts"),
		endpoint: ttsEndpoint,
	}
}

type ttsRequestPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize 依次尝试候选音色与资源 ID，资源不匹配时切换到下一个组合，其他错误直接返回。
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, errEmptyTTSText
	}
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	format := strings.TrimSpace(req.Format)
	if format == "" || format == "wav" {
		format = "mp3"
	}

	speakers := speakerCandidates(req.Voice, c.config.TTSVoice)
	var lastMismatch error
	for _, speaker := range speakers {
		for _, resourceID := range resourceCandidates(speaker) {
			resp, err := c.synthesizeOnce(ctx, req, appID, token, speaker, format, resourceID)
			if err == nil {
				return resp, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			c.logger.Debug("tts resource mismatch",
				zap.String("speaker", speaker),
				zap.String("resource", resourceID),
			)
			lastMismatch = err
		}
	}
	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("no compatible resource for speakers %v", speakers)
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, req *speechmodel.TTSRequest, appID, token, speaker, format, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	payload, err := json.Marshal(c.buildRequest(req, speaker, format))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newRequestFrame(payload, NoCompression).Encode()); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var (
		audio []byte
		reqID = connectID
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read tts response: %w", err)
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			body, _ := decompress(frame.Payload, frame.Header.Compression)
			return nil, fmt.Errorf("tts error %d: %s", frame.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			chunk, err := decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress audio chunk: %w", err)
			}
			audio = append(audio, chunk...)

		case FullServerResponse:
			body, err := decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress tts payload: %w", err)
			}

			var msg ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					c.logger.Warn("skip malformed tts payload", zap.Error(err))
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("tts api error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio: %w", err)
						}
						audio = append(audio, chunk...)
					}
				}
			}

			finished := frame.hasEvent() && frame.Event == EventTypeSessionFinished
			if finished || frame.IsLast() || msg.Sequence < 0 {
				if len(audio) == 0 {
					return nil, errors.New("tts audio is empty")
				}
				return &speechmodel.TTSResponse{
					SessionID: req.SessionID,
					AudioData: audio,
					Format:    format,
					RequestID: reqID,
					CreatedAt: time.Now(),
				}, nil
			}
		}
	}
}

func (c *VolcengineTTSClient) buildRequest(req *speechmodel.TTSRequest, speaker, format string) *ttsRequestPayload {
	p := &ttsRequestPayload{}
	p.User.UID = req.SessionID
	if p.User.UID == "" {
		p.User.UID = uuid.NewString()
	}

	p.ReqParams.Speaker = speaker
	p.ReqParams.Text = req.Text
	p.ReqParams.AudioParams.Format = format
	p.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1 {
		p.ReqParams.AudioParams.SpeedRatio = speed
	}
	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1 {
		p.ReqParams.AudioParams.VolumeRatio = volume
	}

	p.ReqParams.Language = strings.TrimSpace(req.Language)
	if p.ReqParams.Language == "" {
		p.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	}
	p.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return p
}

// resourceCandidates 按音色名称猜测资源 ID 的尝试顺序
func resourceCandidates(speaker string) []string {
	speaker = strings.TrimSpace(speaker)
	if strings.HasPrefix(speaker, "S_") {
		return []string{ttsResourceMega}
	}

	lower := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(lower, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

// speakerCandidates 返回去重后的音色列表：请求音色在前，配置的默认音色兜底。
func speakerCandidates(requested, fallback string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := speakerAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		out = append(out, s)
	}
	add(requested)
	add(fallback)
	return out
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

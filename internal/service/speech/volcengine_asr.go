package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	asrEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"

	// 16kHz 16bit 单声道下 200ms 的音频
	asrChunkSize     = 6400
	asrChunkInterval = 200 * time.Millisecond
)

var errNoAudio = errors.New("no audio data to send")

// ErrUnsupportedAudioFormat 表示识别服务无法解码该容器格式，例如浏览器默认录制的 webm。
var ErrUnsupportedAudioFormat = errors.New("unsupported audio format")

// asrAudioFormat 把客户端上报的格式（扩展名或 MIME 类型）映射为识别服务的 format 与 codec。
// 只接受 wav、pcm、ogg(opus) 与 mp3。
func asrAudioFormat(format string) (container, codec string, err error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if i := strings.IndexByte(f, ';'); i >= 0 {
		f = strings.TrimSpace(f[:i])
	}
	f = strings.TrimPrefix(f, "audio/")

	switch f {
	case "", "wav", "wave", "x-wav":
		return "wav", "raw", nil
	case "pcm", "raw", "l16":
		return "pcm", "raw", nil
	case "ogg", "opus":
		return "ogg", "opus", nil
	case "mp3", "mpeg":
		return "mp3", "raw", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedAudioFormat, format)
	}
}

// VolcengineASRClient 火山引擎大模型流式识别客户端（nostream 模式，结束后返回整段结果）
type VolcengineASRClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	logger   *zap.Logger
	endpoint string
	interval time.Duration
}

// NewVolcengineASRClient 创建 ASR 客户端
func NewVolcengineASRClient(config *speechmodel.SpeechConfig, log *zap.Logger) *VolcengineASRClient {
	return &VolcengineASRClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger:   logger.OrNop(log).Named("asr"),
		endpoint: asrEndpoint,
		interval: asrChunkInterval,
	}
}

// Name 返回提供方名称
func (c *VolcengineASRClient) Name() string {
	return "volcengine"
}

type asrRequestPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

// Recognize 建立一次 websocket 会话，分包上传音频并等待最终识别结果。
func (c *VolcengineASRClient) Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}
	if req == nil || req.AudioData == nil {
		return nil, errNoAudio
	}
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errNoAudio
	}
	container, codec, err := asrAudioFormat(req.Format)
	if err != nil {
		return nil, err
	}

	connectID := req.SessionID
	if connectID == "" {
		connectID = uuid.NewString()
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", c.resourceID())
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial asr websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		c.logger.Debug("asr connected",
			zap.String("session", req.SessionID),
			zap.String("logid", resp.Header.Get("X-Tt-Logid")),
		)
	}

	payload, err := json.Marshal(c.buildRequest(req, container, codec))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	compressed, err := compress(payload, GzipCompression)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newRequestFrame(compressed, GzipCompression).Encode()); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 读写并发进行，服务端提前报错时可以立即停止上传
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- c.sendAudio(ctx, conn, audio)
	}()

	type received struct {
		resp *speechmodel.ASRResponse
		err  error
	}
	recv := make(chan received, 1)
	go func() {
		r, err := c.receive(conn, req.SessionID)
		recv <- received{resp: r, err: err}
	}()

	for {
		select {
		case err := <-sendErr:
			if err != nil {
				return nil, fmt.Errorf("send audio: %w", err)
			}
			sendErr = nil
		case r := <-recv:
			return r.resp, r.err
		case <-ctx.Done():
			// 关闭连接以解除 receive 的阻塞读
			_ = conn.Close()
			return nil, ctx.Err()
		}
	}
}

func (c *VolcengineASRClient) resourceID() string {
	if c.config != nil && c.config.ConcurrentMode {
		return asrResourceConcurrent
	}
	return asrResourceDuration
}

func (c *VolcengineASRClient) buildRequest(req *speechmodel.ASRRequest, container, codec string) *asrRequestPayload {
	p := &asrRequestPayload{}
	p.User.UID = req.SessionID

	p.Audio.Format = container
	p.Audio.Codec = codec
	p.Audio.Language = req.Language
	if p.Audio.Language == "" && c.config != nil {
		p.Audio.Language = c.config.ASRLanguage
	}
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1

	p.Request.ModelName = "bigmodel"
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// 序号 1 被首帧占用
	seq := int32(2)
	for start := 0; start < len(audio); start += asrChunkSize {
		end := min(start+asrChunkSize, len(audio))
		last := end == len(audio)

		chunk, err := compress(audio[start:end], GzipCompression)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, newAudioFrame(chunk, seq, last, GzipCompression).Encode()); err != nil {
			return err
		}
		if last {
			return nil
		}
		seq++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(conn *websocket.Conn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read asr response: %w", err)
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode asr frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			body, _ := decompress(frame.Payload, frame.Header.Compression)
			return nil, fmt.Errorf("asr error %d: %s", frame.ErrorCode, string(body))

		case FullServerResponse:
			body, err := decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress asr payload: %w", err)
			}

			var msg asrServerMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				c.logger.Warn("skip malformed asr payload", zap.Error(err))
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return nil, fmt.Errorf("asr api error %d: %s", msg.Code, msg.Message)
			}

			candidate := msg.Result.Text
			if candidate == "" {
				candidate = joinUtterances(msg.Result.Utterances)
			}
			if candidate != "" {
				text = candidate
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if frame.IsLast() || msg.Sequence < 0 {
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       text,
					Confidence: estimateConfidence(text),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}

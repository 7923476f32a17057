package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/speech"
	"github.com/zhouzirui/pitch-arena/backend/pkg/utils"
)

const (
	maxAudioUpload = 32 << 20
	maxJSONBody    = 1 << 20
	probeSessionID = "probe"
)

// Transcriber 抽象语音识别网关，便于测试与替换实现
type Transcriber interface {
	Available() bool
	Transcribe(ctx context.Context, sessionID string, audio []byte, format string) (string, error)
}

// Synthesizer 抽象语音合成网关
type Synthesizer interface {
	Backends() []string
	Speak(ctx context.Context, u speechsvc.Utterance) speechmodel.Playback
}

// Handler 语音网关的HTTP处理器，用于单独验证识别与合成链路
type Handler struct {
	transcriber Transcriber
	synthesizer Synthesizer
	personas    persona.Store
	logger      *zap.Logger
}

// New 创建语音处理器
func New(transcriber Transcriber, synthesizer Synthesizer, personas persona.Store, log *zap.Logger) *Handler {
	return &Handler{
		transcriber: transcriber,
		synthesizer: synthesizer,
		personas:    personas,
		logger:      logger.OrNop(log).Named("speech-http"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(sr chi.Router) {
		sr.Post("/transcribe", h.handleTranscribe)
		sr.Post("/synthesize", h.handleSynthesize)
		sr.Get("/health", h.handleHealth)
	})
}

type synthesizeRequest struct {
	Text      string `json:"text"`
	PersonaID string `json:"personaId"`
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil || !h.transcriber.Available() {
		_ = utils.RespondErrorCode(w, http.StatusServiceUnavailable, "unavailable", speechsvc.ErrTranscriptionUnavailable.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_upload", "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "audio_required", "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_upload", "failed to read audio")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	text, err := h.transcriber.Transcribe(r.Context(), probeSessionID, audio, format)
	switch {
	case errors.Is(err, speechsvc.ErrUnsupportedAudioFormat):
		_ = utils.RespondErrorCode(w, http.StatusUnsupportedMediaType, "unsupported_format", err.Error())
		return
	case errors.Is(err, speechsvc.ErrEmptyTranscript):
		_ = utils.RespondErrorCode(w, http.StatusUnprocessableEntity, "empty_transcript", err.Error())
		return
	case err != nil:
		h.logger.Warn("probe transcription failed", zap.Error(err))
		_ = utils.RespondErrorCode(w, http.StatusBadGateway, "transcription_failed", "speech recognition failed")
		return
	}

	_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text, "format": format})
}

// handleSynthesize 处理文本转语音请求。远程后端返回音频时直接写出音频，否则返回本地合成指令。
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "text_required", "text is required")
		return
	}
	if h.synthesizer == nil {
		_ = utils.RespondErrorCode(w, http.StatusServiceUnavailable, "unavailable", "speech synthesis unavailable")
		return
	}

	judge, ok := h.resolvePersona(req.PersonaID)
	if !ok {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "unknown_persona", "persona not found")
		return
	}

	playback := h.synthesizer.Speak(r.Context(), speechsvc.Utterance{
		SessionID: probeSessionID,
		Text:      req.Text,
		Persona:   judge,
	})

	if playback.IsLocal() || len(playback.Audio) == 0 {
		_ = utils.RespondJSON(w, http.StatusOK, playback)
		return
	}

	format := playback.Format
	if format == "" {
		format = "mpeg"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(playback.Audio)))
	w.Header().Set("X-Speech-Backend", playback.Backend)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(playback.Audio); err != nil {
		h.logger.Debug("write audio response failed", zap.Error(err))
	}
}

func (h *Handler) resolvePersona(id string) (persona.Persona, bool) {
	if h.personas == nil {
		return persona.Persona{ID: strings.TrimSpace(id)}, true
	}
	if id = strings.TrimSpace(id); id == "" {
		id = persona.OpeningID
	}
	return h.personas.FindByID(id)
}

// handleHealth 返回已配置的语音后端
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var backends []string
	if h.synthesizer != nil {
		backends = h.synthesizer.Backends()
	}
	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"transcription":  h.transcriber != nil && h.transcriber.Available(),
		"speechBackends": backends,
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".ogg", ".m4a", ".pcm":
		return strings.TrimPrefix(ext, ".")
	default:
		return "wav"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody)).Decode(dst)
}

// Package interview 通过 REST、SSE 和 websocket 暴露面试会话。
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	interviewsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
	"github.com/zhouzirui/pitch-arena/backend/pkg/utils"
)

const (
	maxUploadBytes   = 10 << 20
	maxJSONBodyBytes = 1 << 20
	defaultHeartbeat = 15 * time.Second
)

// Handler 面试会话的HTTP处理器
type Handler struct {
	sessions        *interviewsvc.Service
	events          *interviewsvc.Broadcaster
	previewMaxChars int
	heartbeat       time.Duration
	upgrader        websocket.Upgrader
	logger          *zap.Logger
}

// Option 配置 Handler。
type Option func(*Handler)

// WithPreviewMaxChars 设置上传材料预览的最大长度。
func WithPreviewMaxChars(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.previewMaxChars = n
		}
	}
}

// WithHeartbeat 设置 SSE 心跳间隔。
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithLogger 注入 logger。
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// New 创建面试处理器
func New(sessions *interviewsvc.Service, events *interviewsvc.Broadcaster, opts ...Option) *Handler {
	h := &Handler{
		sessions:        sessions,
		events:          events,
		previewMaxChars: interviewsvc.DefaultPreviewChars,
		heartbeat:       defaultHeartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logger.OrNop(h.logger).Named("interview-http")
	return h
}

// RegisterRoutes 注册面试相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/interviews", func(ir chi.Router) {
		ir.Post("/", h.handleCreate)
		ir.Route("/{sessionID}", func(sr chi.Router) {
			sr.Get("/", h.handleSnapshot)
			sr.Delete("/", h.handleDiscard)
			sr.Post("/artifact", h.handleArtifact)
			sr.Post("/media", h.handleMedia)
			sr.Post("/live", h.handleLive)
			sr.Post("/responses", h.handleResponse)
			sr.Post("/draft", h.handleDraft)
			sr.Post("/end", h.handleEnd)
			sr.Get("/events", h.handleEvents)
			sr.Get("/ws", h.handleWebSocket)
		})
	})
}

type artifactRequest struct {
	Name    string `json:"name"`
	Preview string `json:"preview"`
}

type mediaRequest struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type textRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	Outcome  interviewsvc.Outcome  `json:"outcome"`
	Snapshot interviewsvc.Snapshot `json:"snapshot"`
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*interviewsvc.Session, bool) {
	session, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, err)
		return nil, false
	}
	return session, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, _ *http.Request) {
	session := h.sessions.Create()
	_ = utils.RespondJSON(w, http.StatusCreated, session.Snapshot())
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.Discard(id); err != nil {
		h.respondError(w, err)
		return
	}
	if h.events != nil {
		h.events.CloseSession(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArtifact 接受 multipart 的 deck 文件，或者 JSON {name, preview}。
func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var artifact model.Artifact
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		parsed, err := h.readUpload(r)
		if err != nil {
			_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_upload", err.Error())
			return
		}
		artifact = parsed
	} else {
		var req artifactRequest
		if err := decodeJSON(r, &req); err != nil {
			_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_body", "invalid request body")
			return
		}
		artifact = model.Artifact{Name: req.Name, Preview: req.Preview}
	}

	if err := session.Setup(artifact); err != nil {
		h.respondError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) readUpload(r *http.Request) (model.Artifact, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return model.Artifact{}, errors.New("failed to parse multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("deck")
	if err != nil {
		return model.Artifact{}, errors.New("deck file is required")
	}
	defer file.Close()

	preview, err := interviewsvc.ExtractPreview(file, h.previewMaxChars)
	if err != nil {
		return model.Artifact{}, err
	}
	return model.Artifact{Name: header.Filename, Preview: preview}, nil
}

func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req mediaRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if err := session.ReportMedia(req.OK, req.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.GoLive(); err != nil {
		h.respondError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.respondError(w, interviewsvc.ErrInputRequired)
		return
	}

	// 客户端断开不影响本轮生成，结果通过事件流送达。
	out, err := session.TakeTurn(context.WithoutCancel(r.Context()), interviewsvc.Input{Text: req.Text})
	if err != nil {
		h.respondError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, turnResponse{Outcome: out, Snapshot: session.Snapshot()})
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if err := session.SetDraft(req.Text); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.End(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

// handleEvents 以 SSE 推送会话事件，连接建立时先发送一次快照。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		_ = utils.RespondErrorCode(w, http.StatusServiceUnavailable, "unavailable", "event stream unavailable")
		return
	}

	sub := h.events.Subscribe(session.ID())
	defer sub.Close()

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		_ = utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.Event("snapshot", session.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sse.Event(string(ev.Type), ev); err != nil {
				h.logger.Debug("sse write failed", zap.String("session", session.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sse.Comment("heartbeat"); err != nil {
				return
			}
		}
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBodyBytes))
	return dec.Decode(dst)
}

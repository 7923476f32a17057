package interview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	interviewsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
	"github.com/zhouzirui/pitch-arena/backend/pkg/utils"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	maxWSMessage   = 1 << 20
	outboundBuffer = 16
)

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// AudioMessage 是录音过程中的一段音频，audio 字段为 base64。
type AudioMessage struct {
	Audio []byte `json:"audio"`
}

// StopMessage 结束录音。
type StopMessage struct {
	Format string `json:"format"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn 是一条 websocket 连接的上下文。只有 writeLoop 写 conn。
type wsConn struct {
	h       *Handler
	conn    *websocket.Conn
	session *interviewsvc.Session
	out     chan outgoingMessage
	ctx     context.Context
	// actions 不随连接断开而取消，正在进行的轮次会继续完成。
	actions context.Context
}

// handleWebSocket 在一条连接上双向传输：入站为参与者操作，出站为全部会话事件。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		_ = utils.RespondErrorCode(w, http.StatusServiceUnavailable, "unavailable", "event stream unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.events.Subscribe(session.ID())
	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		h:       h,
		conn:    conn,
		session: session,
		out:     make(chan outgoingMessage, outboundBuffer),
		ctx:     ctx,
		actions: context.WithoutCancel(r.Context()),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(cancel, sub.Events())
	}()
	defer func() {
		cancel()
		conn.Close()
		<-writerDone
		sub.Close()
	}()

	h.logger.Info("websocket connected", zap.String("session", session.ID()))

	conn.SetReadLimit(maxWSMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.reply("connected", session.Snapshot())

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("session", session.ID()), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != session.ID() {
			c.replyError("session_mismatch", "session mismatch")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *wsConn) handleMessage(msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var req textRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError("invalid_payload", "invalid text payload")
			return
		}
		go func() {
			_, err := c.session.TakeTurn(c.actions, interviewsvc.Input{Text: req.Text})
			c.replyFailure(err)
		}()
	case "draft":
		var req textRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError("invalid_payload", "invalid draft payload")
			return
		}
		c.replyFailure(c.session.SetDraft(req.Text))
	case "record_start":
		c.replyFailure(c.session.StartCapture())
	case "audio":
		var chunk AudioMessage
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			c.replyError("invalid_payload", "invalid audio payload")
			return
		}
		c.replyFailure(c.session.AppendAudio(chunk.Audio))
	case "record_stop":
		var stop StopMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &stop); err != nil {
				c.replyError("invalid_payload", "invalid stop payload")
				return
			}
		}
		go func() {
			_, err := c.session.StopCapture(c.actions, stop.Format)
			c.replyFailure(err)
		}()
	case "end":
		go func() {
			c.replyFailure(c.session.End(c.actions))
		}()
	default:
		c.replyError("unsupported", "unsupported message type: "+msg.Type)
	}
}

// replyFailure 回复被拒绝的操作。可恢复失败已经通过 recoverable_error 事件通知，不再重复。
func (c *wsConn) replyFailure(err error) {
	if err == nil || errors.Is(err, interviewsvc.ErrTurnFailed) {
		return
	}
	_, code := classify(err)
	c.replyError(code, err.Error())
}

func (c *wsConn) replyError(code, message string) {
	c.reply("error", map[string]string{"code": code, "message": message})
}

func (c *wsConn) reply(kind string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: c.session.ID(),
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) writeLoop(cancel context.CancelFunc, events <-chan interviewsvc.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				c.conn.Close()
				return
			}
			if !c.write(outgoingMessage{
				Type:      string(ev.Type),
				SessionID: ev.SessionID,
				Data:      ev.Data,
				Timestamp: ev.Timestamp.Unix(),
			}) {
				return
			}
		case msg := <-c.out:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (c *wsConn) write(msg outgoingMessage) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.h.logger.Debug("websocket write failed", zap.String("session", c.session.ID()), zap.Error(err))
		c.conn.Close()
		return false
	}
	return true
}

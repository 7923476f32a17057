package interview

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
)

// EventType 是推送给前端的事件名称。
type EventType string

const (
	EventConversationUpdated EventType = "conversation_updated"
	EventPhaseChanged        EventType = "phase_changed"
	EventTurnCountChanged    EventType = "turn_count_changed"
	EventThinkingChanged     EventType = "thinking_state_changed"
	EventRecoverableError    EventType = "recoverable_error"
	EventAnalysisReady       EventType = "analysis_ready"
	EventCaptureChanged      EventType = "capture_state_changed"
	EventSpeechReady         EventType = "speech_ready"
	EventMediaReleased       EventType = "media_released"
)

// Event 是会话状态变化的通知。
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink 接收会话事件。Emit 可能在持有会话锁时被调用，实现不得阻塞。
type EventSink interface {
	Emit(Event)
}

// SessionCloser 由需要在会话被移除时释放订阅的 EventSink 实现。
type SessionCloser interface {
	CloseSession(sessionID string)
}

// ErrorNotice 是 recoverable_error 事件的负载。
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const defaultSubscriberBuffer = 64

// Broadcaster 把事件按会话分发给订阅者。每个订阅者有独立的有界队列，队列满时丢弃新事件。
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *zap.Logger
}

// Subscription 是一个订阅者的事件流。
type Subscription struct {
	sessionID string
	ch        chan Event
	once      sync.Once
	owner     *Broadcaster
}

// NewBroadcaster 创建分发器，buffer <= 0 时使用默认队列长度。
func NewBroadcaster(buffer int, log *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.OrNop(log).Named("events"),
	}
}

// Subscribe 订阅指定会话的事件。
func (b *Broadcaster) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{sessionID: sessionID, ch: make(chan Event, b.buffer), owner: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*Subscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	return sub
}

// Emit 把事件投递给会话的全部订阅者，队列已满时丢弃。
func (b *Broadcaster) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber queue full, dropping event",
				zap.String("session", ev.SessionID),
				zap.String("event", string(ev.Type)),
			)
		}
	}
}

// Subscribers 返回会话当前的订阅者数量。
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// CloseSession 关闭会话的全部订阅。
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	subs := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Events 返回事件通道，订阅关闭后通道被关闭。
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() {
	b := s.owner
	b.mu.Lock()
	if set := b.subs[s.sessionID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.sessionID)
		}
	}
	b.mu.Unlock()

	s.once.Do(func() { close(s.ch) })
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

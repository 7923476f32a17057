// Package interview 实现回合制评审面试，包括会话状态机、提问编排和事件分发。
package interview

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
)

// Service 在内存中管理会话，不做持久化。
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	orch     *Orchestrator
	sink     EventSink
	logger   *zap.Logger
}

// NewService 创建会话注册表。
func NewService(orch *Orchestrator, sink EventSink, log *zap.Logger) *Service {
	if sink == nil {
		sink = nopSink{}
	}
	return &Service{
		sessions: make(map[string]*Session),
		orch:     orch,
		sink:     sink,
		logger:   logger.OrNop(log).Named("interview"),
	}
}

// Create 新建一个处于 Landing 阶段的会话，并顺带清理已经结束的会话。
func (s *Service) Create() *Session {
	session := newSession(uuid.NewString(), s.orch, s.sink)

	var swept []*Session
	s.mu.Lock()
	for id, existing := range s.sessions {
		if existing.Phase() == model.PhaseTerminal {
			delete(s.sessions, id)
			swept = append(swept, existing)
		}
	}
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	for _, old := range swept {
		s.release(old)
	}
	s.logger.Info("session created", zap.String("session", session.ID()), zap.Int("swept", len(swept)))
	return session
}

// Get 返回会话。
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Discard 丢弃会话。进行中的网络调用不会被取消，其结果会被忽略。
func (s *Service) Discard(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.release(session)
	s.logger.Info("session discarded", zap.String("session", id))
	return nil
}

// release 停止会话的计时器，并断开该会话的事件订阅者。
func (s *Service) release(session *Session) {
	session.close()
	if closer, ok := s.sink.(SessionCloser); ok {
		closer.CloseSession(session.ID())
	}
}

// Len 返回当前会话数量。
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

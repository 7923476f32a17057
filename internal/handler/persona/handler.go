package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	"github.com/zhouzirui/pitch-arena/backend/pkg/utils"
)

// Handler 评委列表的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建评委处理器
func New(personas persona.Store) *Handler {
	return &Handler{personas: personas}
}

// RegisterRoutes 注册评委相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/panel", h.handleListPanel)
}

func (h *Handler) handleListPanel(w http.ResponseWriter, _ *http.Request) {
	panel := h.personas.List()
	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{
		"openingId": persona.OpeningID,
		"panel":     panel,
	})
}

package interview

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	interviewsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
	"github.com/zhouzirui/pitch-arena/backend/pkg/utils"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// 顺序有意义：ErrTurnFailed 包装的原因可能同时命中其他哨兵错误。
var errorMappings = []errorMapping{
	{interviewsvc.ErrTurnFailed, http.StatusUnprocessableEntity, "turn_failed"},
	{interviewsvc.ErrSessionNotFound, http.StatusNotFound, "not_found"},
	{interviewsvc.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{interviewsvc.ErrNotLive, http.StatusConflict, "not_live"},
	{interviewsvc.ErrTurnInFlight, http.StatusConflict, "turn_in_flight"},
	{interviewsvc.ErrCaptureActive, http.StatusConflict, "capture_active"},
	{interviewsvc.ErrNotCapturing, http.StatusConflict, "not_capturing"},
	{interviewsvc.ErrMediaUnavailable, http.StatusConflict, "media_unavailable"},
	{interviewsvc.ErrSessionClosed, http.StatusConflict, "session_closed"},
	{interviewsvc.ErrArtifactRequired, http.StatusBadRequest, "artifact_required"},
	{interviewsvc.ErrInputRequired, http.StatusBadRequest, "input_required"},
	{interviewsvc.ErrAudioTooLarge, http.StatusBadRequest, "audio_too_large"},
}

// classify 把服务层错误映射为 HTTP 状态码与错误码。
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("unexpected interview error", zap.Error(err))
		message = "internal error"
	}
	_ = utils.RespondErrorCode(w, status, code, message)
}

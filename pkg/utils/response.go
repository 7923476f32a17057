package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorBody 是所有错误响应的统一结构。
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RespondJSON 发送 JSON 响应。编码失败时返回错误，由调用方决定是否记录。
func RespondJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

// RespondError 发送错误响应。
func RespondError(w http.ResponseWriter, status int, message string) error {
	return RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondErrorCode 发送带机器可读错误码的错误响应。
func RespondErrorCode(w http.ResponseWriter, status int, code, message string) error {
	return RespondJSON(w, status, ErrorBody{Error: message, Code: code})
}

package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
)

// ErrCredentialsMissing 火山引擎 AppID 或 AccessToken 未配置。
var ErrCredentialsMissing = errors.New("volcengine speech credentials are not configured")

// resolveCredentials 返回去除空白后的 AppID 与 AccessToken，AccessToken 为空时退回 APIKey。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (appID, token string, err error) {
	if cfg == nil {
		return "", "", ErrCredentialsMissing
	}

	appID = strings.TrimSpace(cfg.AppID)
	token = strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrCredentialsMissing
	}
	return appID, token, nil
}

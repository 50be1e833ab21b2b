package speech

import (
	"errors"
	"strings"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
)

// ErrNotConfigured is returned when the Volcengine credentials are missing.
var ErrNotConfigured = errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken。
func resolveCredentials(cfg config.SpeechConfig) (string, string, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrNotConfigured
	}
	return appID, token, nil
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/service"
)

type systemSettingsPayload struct {
	AIProvider     string `json:"ai_provider"`
	OpenAIAPIKey   string `json:"openai_api_key"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	CoachPersona   string `json:"coach_persona"`
}

// GetSystemSettings 返回系统设置，API Key 只回传是否已配置。
func (a *API) GetSystemSettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ai_provider":          settings.AIProvider,
		"openai_key_present":   settings.OpenAIAPIKey != "",
		"deepseek_key_present": settings.DeepSeekAPIKey != "",
		"coach_persona":        settings.CoachPersona,
	})
}

// UpdateSystemSettings 更新系统设置。
func (a *API) UpdateSystemSettings(c *gin.Context) {
	var payload systemSettingsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	settings, err := a.system.UpdateSettings(service.SystemSettingsInput{
		AIProvider:     payload.AIProvider,
		OpenAIAPIKey:   payload.OpenAIAPIKey,
		DeepSeekAPIKey: payload.DeepSeekAPIKey,
		CoachPersona:   payload.CoachPersona,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "更新系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ai_provider":   settings.AIProvider,
		"coach_persona": settings.CoachPersona,
	})
}

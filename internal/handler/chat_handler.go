package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/service"
)

type chatPayload struct {
	Content string `json:"content"`
}

// GetChatHistory 返回教练对话历史。
func (a *API) GetChatHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	messages, err := a.coach.History(currentUserID(c), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取对话历史失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendChatMessage 发送一条消息给 AI 教练并返回回复。
func (a *API) SendChatMessage(c *gin.Context) {
	var payload chatPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	reply, err := a.coach.Send(c.Request.Context(), currentUserID(c), payload.Content)
	if err != nil {
		if errors.Is(err, service.ErrAIAPIKeyMissing) {
			respondError(c, http.StatusServiceUnavailable, "教练功能未配置")
			return
		}
		respondError(c, http.StatusBadGateway, "教练暂时无法回复，请稍后再试")
		return
	}
	c.JSON(http.StatusOK, reply)
}

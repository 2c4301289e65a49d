package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/service"
)

type devicePayload struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// GetNotifications 返回通知列表。
func (a *API) GetNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	notifications, err := a.notifications.List(currentUserID(c), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取通知失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// GetUnreadCount 返回未读通知数。
func (a *API) GetUnreadCount(c *gin.Context) {
	count, err := a.notifications.UnreadCount(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取未读数失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkNotificationRead 标记单条通知为已读。
func (a *API) MarkNotificationRead(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.notifications.MarkRead(currentUserID(c), id); err != nil {
		respondError(c, http.StatusInternalServerError, "标记已读失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已读"})
}

// MarkAllNotificationsRead 标记全部通知为已读。
func (a *API) MarkAllNotificationsRead(c *gin.Context) {
	if err := a.notifications.MarkAllRead(currentUserID(c)); err != nil {
		respondError(c, http.StatusInternalServerError, "标记已读失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已全部标记为已读"})
}

// RegisterDevice 注册推送设备令牌。
func (a *API) RegisterDevice(c *gin.Context) {
	var payload devicePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	device, err := a.notifications.RegisterDevice(currentUserID(c), payload.Token, payload.Platform)
	if err != nil {
		respondError(c, http.StatusBadRequest, "注册设备失败")
		return
	}
	c.JSON(http.StatusCreated, device)
}

// UnregisterDevice 注销推送设备令牌。
func (a *API) UnregisterDevice(c *gin.Context) {
	var payload devicePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	if err := a.notifications.UnregisterDevice(currentUserID(c), payload.Token); err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			respondError(c, http.StatusNotFound, "设备不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "注销设备失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "设备已注销"})
}

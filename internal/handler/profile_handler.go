package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/db"
)

type profileUpdatePayload struct {
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
}

// profileView 是返回给本人的档案视图。
func profileView(user *db.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"display_name":   user.DisplayName,
		"avatar_url":     user.AvatarURL,
		"timezone":       user.Timezone,
		"xp":             user.XP,
		"level":          user.Level,
		"coins":          user.Coins,
		"current_streak": user.CurrentStreak,
		"longest_streak": user.LongestStreak,
		"freeze_count":   user.FreezeCount,
	}
}

// publicProfileView 是对其他用户可见的精简视图。
func publicProfileView(user *db.User) gin.H {
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	return gin.H{
		"id":             user.ID,
		"display_name":   name,
		"avatar_url":     user.AvatarURL,
		"level":          user.Level,
		"current_streak": user.CurrentStreak,
	}
}

// GetProfile 返回当前用户档案，附带徽章与最近的经验流水。
func (a *API) GetProfile(c *gin.Context) {
	userID := currentUserID(c)

	var user db.User
	if err := a.db.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "获取档案失败")
		return
	}

	view := profileView(&user)

	if badges, err := a.xp.Badges(userID); err == nil {
		codes := make([]string, 0, len(badges))
		for _, b := range badges {
			codes = append(codes, b.Code)
		}
		view["badges"] = codes
	}
	if ledger, err := a.xp.Ledger(userID, 20); err == nil {
		view["xp_ledger"] = ledger
	}

	c.JSON(http.StatusOK, view)
}

// UpdateProfile 更新昵称与时区。
func (a *API) UpdateProfile(c *gin.Context) {
	var payload profileUpdatePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	userID := currentUserID(c)
	updates := map[string]interface{}{
		"display_name": strings.TrimSpace(payload.DisplayName),
		"timezone":     strings.TrimSpace(payload.Timezone),
	}
	if err := a.db.Model(&db.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "更新档案失败")
		return
	}

	var user db.User
	if err := a.db.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "获取档案失败")
		return
	}
	c.JSON(http.StatusOK, profileView(&user))
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/service"
)

type friendPayload struct {
	UserID uint `json:"user_id"`
}

// RequestFriend 发起好友请求。
func (a *API) RequestFriend(c *gin.Context) {
	var payload friendPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	if err := a.friends.Request(currentUserID(c), payload.UserID); err != nil {
		respondFriendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "好友请求已发送"})
}

// AcceptFriend 接受好友请求。
func (a *API) AcceptFriend(c *gin.Context) {
	var payload friendPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	if err := a.friends.Accept(currentUserID(c), payload.UserID); err != nil {
		respondFriendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已通过好友请求"})
}

// GetFriends 返回好友列表。
func (a *API) GetFriends(c *gin.Context) {
	friends, err := a.friends.Friends(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取好友列表失败")
		return
	}

	views := make([]gin.H, 0, len(friends))
	for i := range friends {
		views = append(views, publicProfileView(&friends[i]))
	}
	c.JSON(http.StatusOK, gin.H{"friends": views})
}

// GetFriendRequests 返回待确认的好友请求。
func (a *API) GetFriendRequests(c *gin.Context) {
	requesters, err := a.friends.PendingRequests(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取好友请求失败")
		return
	}

	views := make([]gin.H, 0, len(requesters))
	for i := range requesters {
		views = append(views, publicProfileView(&requesters[i]))
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

// GetLeaderboard 返回好友经验排行榜。
func (a *API) GetLeaderboard(c *gin.Context) {
	entries, err := a.friends.Leaderboard(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取排行榜失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func respondFriendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrFriendSelf):
		respondError(c, http.StatusBadRequest, "不能添加自己为好友")
	case errors.Is(err, service.ErrFriendRequestExists):
		respondError(c, http.StatusConflict, "好友关系或请求已存在")
	case errors.Is(err, service.ErrFriendRequestNotFound):
		respondError(c, http.StatusNotFound, "好友请求不存在")
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "用户不存在")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}

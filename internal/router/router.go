package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由。
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("ritualmate_session", store))

	// 静态文件服务（头像等上传内容）
	r.Static("/static", "./web/static")

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/register", api.Register)
		v1.POST("/login", api.Login)
		v1.POST("/logout", api.Logout)

		// 需要认证的路由
		auth := v1.Group("")
		auth.Use(handler.AuthRequired())
		{
			auth.GET("/profile", api.GetProfile)
			auth.PUT("/profile", api.UpdateProfile)
			auth.POST("/profile/avatar", api.UploadAvatar)

			auth.GET("/rituals", api.GetRituals)
			auth.POST("/rituals", api.CreateRitual)
			auth.GET("/rituals/:id", api.GetRitual)
			auth.PUT("/rituals/:id", api.UpdateRitual)
			auth.DELETE("/rituals/:id", api.DeleteRitual)
			auth.POST("/rituals/:id/complete", api.LogCompletion)
			auth.GET("/rituals/:id/logs", api.GetRitualLogs)

			auth.POST("/partnerships/invite", api.CreateInvite)
			auth.POST("/partnerships/redeem", api.RedeemInvite)
			auth.GET("/partnerships", api.GetPartnerships)
			auth.GET("/partnerships/:id", api.GetPartnership)
			auth.DELETE("/partnerships/:id", api.EndPartnership)
			auth.POST("/partnerships/:id/freeze", api.UsePartnershipFreeze)
			auth.POST("/freeze", api.UsePersonalFreeze)
			auth.GET("/freeze/history", api.GetFreezeHistory)

			auth.GET("/notifications", api.GetNotifications)
			auth.GET("/notifications/unread", api.GetUnreadCount)
			auth.PUT("/notifications/:id/read", api.MarkNotificationRead)
			auth.PUT("/notifications/read-all", api.MarkAllNotificationsRead)
			auth.POST("/devices", api.RegisterDevice)
			auth.DELETE("/devices", api.UnregisterDevice)

			auth.POST("/friends/request", api.RequestFriend)
			auth.POST("/friends/accept", api.AcceptFriend)
			auth.GET("/friends", api.GetFriends)
			auth.GET("/friends/requests", api.GetFriendRequests)
			auth.GET("/leaderboard", api.GetLeaderboard)

			auth.GET("/coach/messages", api.GetChatHistory)
			auth.POST("/coach/messages", api.SendChatMessage)

			auth.GET("/system/settings", api.GetSystemSettings)
			auth.PUT("/system/settings", api.UpdateSystemSettings)
		}
	}

	return r
}

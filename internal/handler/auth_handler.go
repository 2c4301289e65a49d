package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const sessionUserIDKey = "user_id"

type credentialsPayload struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
}

// Register 创建新账号并直接建立会话。
func (a *API) Register(c *gin.Context) {
	var payload credentialsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" || len(payload.Password) < 6 {
		respondError(c, http.StatusBadRequest, "用户名不能为空，密码至少 6 位")
		return
	}

	var existing db.User
	err := a.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		respondError(c, http.StatusConflict, "用户名已被占用")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	user := db.User{
		Username:    username,
		Password:    string(hashed),
		DisplayName: strings.TrimSpace(payload.DisplayName),
		Timezone:    strings.TrimSpace(payload.Timezone),
		Level:       1,
		FreezeCount: 2,
	}
	if err := a.db.Create(&user).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	if err := saveSession(c, user.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusCreated, profileView(&user))
}

// Login 处理用户登录请求。
func (a *API) Login(c *gin.Context) {
	var payload credentialsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	var user db.User
	if err := a.db.Where("username = ?", strings.TrimSpace(payload.Username)).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	if err := saveSession(c, user.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, profileView(&user))
}

// Logout 处理用户登出。
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"message": "已登出"})
}

func saveSession(c *gin.Context, userID uint) error {
	session := sessions.Default(c)
	session.Set(sessionUserIDKey, userID)
	return session.Save()
}

// AuthRequired 是一个简单的认证中间件，未登录请求返回 401。
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get(sessionUserIDKey)
		if userID == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentUserID 从会话取出当前用户 ID，AuthRequired 保证其存在。
func currentUserID(c *gin.Context) uint {
	session := sessions.Default(c)
	if id, ok := session.Get(sessionUserIDKey).(uint); ok {
		return id
	}
	return 0
}

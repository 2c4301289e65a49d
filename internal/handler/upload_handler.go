package handler

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ritualmate/internal/db"
	"golang.org/x/image/draw"
)

const avatarThumbSize = 256

// UploadAvatar 处理头像上传：保存原图、生成 256px 缩略图并更新用户档案。
func (a *API) UploadAvatar(c *gin.Context) {
	file, err := c.FormFile("avatar")
	if err != nil {
		respondError(c, http.StatusBadRequest, "未找到上传的图片")
		return
	}

	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		respondError(c, http.StatusBadRequest, "只允许上传图片文件")
		return
	}

	uploadDir := a.uploadDir
	if uploadDir == "" {
		uploadDir = "./web/static/uploads"
	}
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		respondError(c, http.StatusInternalServerError, "创建上传目录失败")
		return
	}

	// 生成唯一文件名
	ext := filepath.Ext(file.Filename)
	newFilename := fmt.Sprintf("%s-%s%s", time.Now().Format("20060102"), uuid.New().String(), ext)
	filePath := filepath.Join(uploadDir, newFilename)

	if err := c.SaveUploadedFile(file, filePath); err != nil {
		respondError(c, http.StatusInternalServerError, "保存文件失败")
		return
	}

	avatarName := newFilename
	if thumbName, err := writeThumbnail(uploadDir, newFilename, filePath); err == nil {
		avatarName = thumbName
	}

	urlPath := a.uploadURL
	if urlPath == "" {
		urlPath = "/static/uploads"
	}
	avatarURL := fmt.Sprintf("%s/%s", strings.TrimRight(urlPath, "/"), avatarName)

	if err := a.db.Model(&db.User{}).Where("id = ?", currentUserID(c)).
		Update("avatar_url", avatarURL).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "更新头像失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"avatar_url": avatarURL})
}

// writeThumbnail 将原图等比缩放到不超过 avatarThumbSize 的 PNG 缩略图。
func writeThumbnail(uploadDir, baseName, sourcePath string) (string, error) {
	source, err := os.Open(sourcePath)
	if err != nil {
		return "", err
	}
	defer source.Close()

	decoded, _, err := image.Decode(source)
	if err != nil {
		return "", err
	}

	bounds := decoded.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= avatarThumbSize && height <= avatarThumbSize {
		return baseName, nil
	}

	scale := float64(avatarThumbSize) / float64(width)
	if height > width {
		scale = float64(avatarThumbSize) / float64(height)
	}
	thumbWidth := int(float64(width) * scale)
	thumbHeight := int(float64(height) * scale)

	thumb := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), decoded, bounds, draw.Over, nil)

	thumbName := strings.TrimSuffix(baseName, filepath.Ext(baseName)) + "_thumb.png"
	out, err := os.Create(filepath.Join(uploadDir, thumbName))
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := png.Encode(out, thumb); err != nil {
		return "", err
	}
	return thumbName, nil
}

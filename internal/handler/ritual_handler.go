package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/db"
	"github.com/ritualmate/internal/service"
)

const dateFormat = "2006-01-02"

type ritualPayload struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ReminderTime string `json:"reminder_time"`
	Weekdays     string `json:"weekdays"`
	Steps        int    `json:"steps"`
}

type completionPayload struct {
	StepIndex *int   `json:"step_index"`
	Source    string `json:"source"`
}

// GetRituals 返回当前用户的全部仪式。
func (a *API) GetRituals(c *gin.Context) {
	rituals, err := a.rituals.List(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取仪式列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rituals": rituals})
}

// GetRitual 返回单个仪式详情。
func (a *API) GetRitual(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ritual, err := a.rituals.Get(currentUserID(c), id)
	if err != nil {
		respondRitualError(c, err)
		return
	}
	c.JSON(http.StatusOK, ritual)
}

// CreateRitual 新建仪式。
func (a *API) CreateRitual(c *gin.Context) {
	var payload ritualPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	ritual, err := a.rituals.Create(currentUserID(c), service.RitualInput{
		Name:         payload.Name,
		Description:  payload.Description,
		ReminderTime: payload.ReminderTime,
		Weekdays:     payload.Weekdays,
		Steps:        payload.Steps,
	})
	if err != nil {
		respondRitualError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ritual)
}

// UpdateRitual 更新仪式配置。
func (a *API) UpdateRitual(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload ritualPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	ritual, err := a.rituals.Update(currentUserID(c), id, service.RitualInput{
		Name:         payload.Name,
		Description:  payload.Description,
		ReminderTime: payload.ReminderTime,
		Weekdays:     payload.Weekdays,
		Steps:        payload.Steps,
	})
	if err != nil {
		respondRitualError(c, err)
		return
	}
	c.JSON(http.StatusOK, ritual)
}

// DeleteRitual 删除仪式（搭档中的仪式需先解除搭档）。
func (a *API) DeleteRitual(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.rituals.Delete(currentUserID(c), id); err != nil {
		respondRitualError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已删除"})
}

// LogCompletion 记录一次打卡；step_index 缺省为完整打卡。
func (a *API) LogCompletion(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload completionPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	stepIndex := db.FullCompletionStep
	if payload.StepIndex != nil {
		stepIndex = *payload.StepIndex
	}
	source := payload.Source
	if source == "" {
		source = "manual"
	}

	record, err := a.completions.LogCompletion(id, currentUserID(c), stepIndex, source)
	if err != nil {
		respondRitualError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// GetRitualLogs 返回仪式在指定区间内的打卡记录，默认最近 30 天。
func (a *API) GetRitualLogs(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	end := time.Now()
	start := end.AddDate(0, 0, -30)
	if raw := c.Query("start"); raw != "" {
		if parsed, err := time.ParseInLocation(dateFormat, raw, time.Local); err == nil {
			start = parsed
		}
	}
	if raw := c.Query("end"); raw != "" {
		if parsed, err := time.ParseInLocation(dateFormat, raw, time.Local); err == nil {
			end = parsed
		}
	}

	logs, err := a.rituals.Logs(currentUserID(c), id, start, end)
	if err != nil {
		respondRitualError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func respondRitualError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRitualNotFound):
		respondError(c, http.StatusNotFound, "仪式不存在")
	case errors.Is(err, service.ErrRitualNotOwned):
		respondError(c, http.StatusForbidden, "无权操作该仪式")
	case errors.Is(err, service.ErrRitualPartnered):
		respondError(c, http.StatusConflict, "仪式仍在搭档关系中")
	case errors.Is(err, service.ErrRitualInvalidReminder),
		errors.Is(err, service.ErrRitualInvalidWeekdays):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}

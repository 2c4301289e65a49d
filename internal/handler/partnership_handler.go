package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ritualmate/internal/service"
)

type invitePayload struct {
	RitualID uint `json:"ritual_id"`
}

type redeemPayload struct {
	RitualID uint   `json:"ritual_id"`
	Code     string `json:"code"`
}

// CreateInvite 为仪式签发搭档邀请码。
func (a *API) CreateInvite(c *gin.Context) {
	var payload invitePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	invite, err := a.partnerships.CreateInvite(currentUserID(c), payload.RitualID)
	if err != nil {
		respondPartnershipError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": invite.Code, "expires_at": invite.ExpiresAt})
}

// RedeemInvite 兑换邀请码并建立搭档关系。
func (a *API) RedeemInvite(c *gin.Context) {
	var payload redeemPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	partnership, err := a.partnerships.RedeemInvite(currentUserID(c), payload.RitualID, payload.Code)
	if err != nil {
		respondPartnershipError(c, err)
		return
	}
	c.JSON(http.StatusCreated, partnership)
}

// GetPartnerships 返回当前用户参与的搭档关系。
func (a *API) GetPartnerships(c *gin.Context) {
	partnerships, err := a.partnerships.ListByUser(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取搭档列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"partnerships": partnerships})
}

// GetPartnership 返回搭档关系详情。
func (a *API) GetPartnership(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	partnership, err := a.partnerships.Get(currentUserID(c), id)
	if err != nil {
		respondPartnershipError(c, err)
		return
	}
	c.JSON(http.StatusOK, partnership)
}

// EndPartnership 解除搭档关系。
func (a *API) EndPartnership(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.partnerships.End(currentUserID(c), id); err != nil {
		respondPartnershipError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "搭档关系已解除"})
}

// UsePartnershipFreeze 显式消耗一张搭档冻结券。
func (a *API) UsePartnershipFreeze(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.partnerships.UseFreeze(currentUserID(c), id); err != nil {
		respondPartnershipError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "冻结券已使用"})
}

// UsePersonalFreeze 消耗一张个人冻结券。
func (a *API) UsePersonalFreeze(c *gin.Context) {
	if err := a.partnerships.UsePersonalFreeze(currentUserID(c)); err != nil {
		respondPartnershipError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "冻结券已使用"})
}

// GetFreezeHistory 返回冻结券消耗记录。
func (a *API) GetFreezeHistory(c *gin.Context) {
	logs, err := a.partnerships.FreezeHistory(currentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取冻结记录失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"freeze_logs": logs})
}

func respondPartnershipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInviteNotFound):
		respondError(c, http.StatusNotFound, "邀请码不存在或已被使用")
	case errors.Is(err, service.ErrInviteExpired):
		respondError(c, http.StatusGone, "邀请码已过期")
	case errors.Is(err, service.ErrInviteSelfRedeem):
		respondError(c, http.StatusBadRequest, "不能兑换自己的邀请码")
	case errors.Is(err, service.ErrPartnershipNotFound):
		respondError(c, http.StatusNotFound, "搭档关系不存在")
	case errors.Is(err, service.ErrPartnershipNotMember):
		respondError(c, http.StatusForbidden, "无权操作该搭档关系")
	case errors.Is(err, service.ErrNoFreezeAvailable):
		respondError(c, http.StatusConflict, "冻结券已用完")
	case errors.Is(err, service.ErrRitualNotFound),
		errors.Is(err, service.ErrRitualNotOwned),
		errors.Is(err, service.ErrRitualPartnered):
		respondRitualError(c, err)
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}

package api

import (
	"ledger/middleware"
	"ledger/models"
	"ledger/service"

	"github.com/gin-gonic/gin"
)

// LookupHandler 类别与商店
type LookupHandler struct {
	lookups *service.LookupService
}

// NewLookupHandler 创建处理器
func NewLookupHandler(lookups *service.LookupService) *LookupHandler {
	return &LookupHandler{lookups: lookups}
}

// ResolveRequest 按名称创建或复用
type ResolveRequest struct {
	Name        string `json:"name" binding:"required" example:"Groceries"`
	OnDuplicate string `json:"on_duplicate" binding:"omitempty,oneof=reuse reject" example:"reuse"`
}

// ResolveResponse 解析结果
type ResolveResponse struct {
	models.Lookup
	Created bool `json:"created"`
}

func (h *LookupHandler) list(c *gin.Context, kind models.LookupKind) {
	list, err := h.lookups.List(c.Request.Context(), kind, middleware.GetCurrentUserID(c), c.Query("q"))
	if err != nil {
		ServiceError(c, err, "failed to list "+string(kind))
		return
	}
	Success(c, list)
}

func (h *LookupHandler) resolve(c *gin.Context, kind models.LookupKind) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	lk, created, err := h.lookups.ResolveOrCreate(c.Request.Context(), kind, middleware.GetCurrentUserID(c), req.Name, req.OnDuplicate)
	if err != nil {
		ServiceError(c, err, "failed to create "+string(kind))
		return
	}
	Success(c, ResolveResponse{Lookup: lk, Created: created})
}

// ListCategories 类别列表
// @Summary 获取类别列表
// @Description 按创建顺序返回当前用户的类别，q 为不区分大小写的前缀过滤
// @Tags 类别
// @Produce json
// @Security BearerAuth
// @Param q query string false "名称前缀"
// @Success 200 {object} Response{data=[]models.Lookup} "获取成功"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/categories [get]
func (h *LookupHandler) ListCategories(c *gin.Context) {
	h.list(c, models.KindCategory)
}

// ResolveCategory 创建或复用类别
// @Summary 创建类别
// @Description 名称去除首尾空白后按不区分大小写比较；已存在时按 on_duplicate 复用或返回 409
// @Tags 类别
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ResolveRequest true "类别名称"
// @Success 200 {object} Response{data=ResolveResponse} "成功"
// @Failure 400 {object} Response "名称为空"
// @Failure 409 {object} Response "名称已存在"
// @Router /api/v1/categories [post]
func (h *LookupHandler) ResolveCategory(c *gin.Context) {
	h.resolve(c, models.KindCategory)
}

// ListStores 商店列表
// @Summary 获取商店列表
// @Tags 商店
// @Produce json
// @Security BearerAuth
// @Param q query string false "名称前缀"
// @Success 200 {object} Response{data=[]models.Lookup} "获取成功"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/stores [get]
func (h *LookupHandler) ListStores(c *gin.Context) {
	h.list(c, models.KindStore)
}

// ResolveStore 创建或复用商店
// @Summary 创建商店
// @Tags 商店
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ResolveRequest true "商店名称"
// @Success 200 {object} Response{data=ResolveResponse} "成功"
// @Failure 400 {object} Response "名称为空"
// @Failure 409 {object} Response "名称已存在"
// @Router /api/v1/stores [post]
func (h *LookupHandler) ResolveStore(c *gin.Context) {
	h.resolve(c, models.KindStore)
}

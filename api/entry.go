package api

import (
	"encoding/json"
	"strconv"
	"time"

	"ledger/events"
	"ledger/middleware"
	"ledger/service"

	"github.com/gin-gonic/gin"
)

const streamHeartbeat = 30 * time.Second

// EntryHandler 购买记录处理器
type EntryHandler struct {
	entries *service.EntryService
	hub     *events.Hub
}

// NewEntryHandler 创建处理器，hub 为 nil 时不提供实时推送
func NewEntryHandler(entries *service.EntryService, hub *events.Hub) *EntryHandler {
	return &EntryHandler{entries: entries, hub: hub}
}

// CreateEntryRequest 新建购买记录
// 类别、商店分别传 id 或名称；price 为分，缺省时解析 price_text（如 "1,29"）
type CreateEntryRequest struct {
	Name         string  `json:"name" binding:"required,max=255" example:"Milk"`
	Quantity     float64 `json:"quantity" binding:"required,gt=0" example:"2"`
	Price        int64   `json:"price" binding:"omitempty,gt=0" example:"129"`
	PriceText    string  `json:"price_text" example:"1,29"`
	PurchaseDate string  `json:"purchase_date" binding:"required" example:"2024-03-01"`
	CategoryID   uint    `json:"category_id" example:"1"`
	CategoryName string  `json:"category_name" example:"Groceries"`
	StoreID      uint    `json:"store_id" example:"1"`
	StoreName    string  `json:"store_name" example:"Lidl"`
}

// Create 新建购买记录
// @Summary 新建购买记录
// @Description 名称引用的类别/商店会先按去重规则解析（必要时创建），再写入记录
// @Tags 购买记录
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateEntryRequest true "购买记录"
// @Success 200 {object} Response{data=models.Entry} "创建成功"
// @Failure 400 {object} Response "参数错误"
// @Failure 401 {object} Response "未授权"
// @Failure 422 {object} Response "类别或商店不存在"
// @Router /api/v1/entries [post]
func (h *EntryHandler) Create(c *gin.Context) {
	var req CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	entry, err := h.entries.Create(c.Request.Context(), middleware.GetCurrentUserID(c), service.CreateEntryInput{
		Name:         req.Name,
		Quantity:     req.Quantity,
		Price:        req.Price,
		PriceText:    req.PriceText,
		PurchaseDate: req.PurchaseDate,
		CategoryID:   req.CategoryID,
		CategoryName: req.CategoryName,
		StoreID:      req.StoreID,
		StoreName:    req.StoreName,
	})
	if err != nil {
		ServiceError(c, err, "failed to create entry")
		return
	}
	SuccessWithMessage(c, "created", entry)
}

// List 购买记录列表
// @Summary 获取购买记录
// @Description 按购买日期倒序返回，附带类别/商店名称和合计（分）
// @Tags 购买记录
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]models.EntryView} "获取成功"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/entries [get]
func (h *EntryHandler) List(c *gin.Context) {
	views, err := h.entries.ListWithLookups(c.Request.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		ServiceError(c, err, "failed to list entries")
		return
	}
	Success(c, views)
}

// Delete 删除购买记录
// @Summary 删除购买记录
// @Tags 购买记录
// @Produce json
// @Security BearerAuth
// @Param id path int true "记录ID"
// @Success 200 {object} Response "删除成功"
// @Failure 403 {object} Response "无权删除"
// @Failure 404 {object} Response "记录不存在"
// @Router /api/v1/entries/{id} [delete]
func (h *EntryHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		BadRequest(c, "invalid id")
		return
	}

	if err := h.entries.Delete(c.Request.Context(), middleware.GetCurrentUserID(c), uint(id)); err != nil {
		ServiceError(c, err, "failed to delete entry")
		return
	}
	SuccessWithMessage(c, "deleted", nil)
}

// Summary 合计汇总
// @Summary 获取合计
// @Description 全部记录的合计及各类别合计（分），类别按合计从高到低
// @Tags 购买记录
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=service.EntrySummary} "获取成功"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/entries/summary [get]
func (h *EntryHandler) Summary(c *gin.Context) {
	summary, err := h.entries.Summary(c.Request.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		ServiceError(c, err, "failed to summarize entries")
		return
	}
	Success(c, summary)
}

type sseFrame struct {
	Type    string `json:"type"` // ready | entry.created | entry.deleted
	EntryID uint   `json:"entry_id,omitempty"`
}

func writeSSEJSON(c *gin.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = c.Writer.WriteString("data: " + string(b) + "\n\n")
	c.Writer.Flush()
}

// Stream 实时推送记录变更
// @Summary 订阅记录变更（SSE）
// @Description 每次当前用户的记录被创建或删除时推送一帧，客户端收到后重新拉取列表。浏览器 EventSource 可通过 access_token 查询参数认证。
// @Tags 购买记录
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string "SSE流：data: {\"type\":\"entry.created\",\"entry_id\":1}"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/entries/stream [get]
func (h *EntryHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		NotFound(c, "live updates are disabled")
		return
	}
	owner := middleware.GetCurrentUserID(c)
	if owner == 0 {
		Unauthorized(c, "not authenticated")
		return
	}

	ch, cancel := h.hub.Subscribe(owner)
	defer cancel()

	// SSE响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSEJSON(c, sseFrame{Type: "ready"})

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEJSON(c, sseFrame{Type: string(e.Type), EntryID: e.EntryID})
		case <-ticker.C:
			_, _ = c.Writer.WriteString(": ping\n\n")
			c.Writer.Flush()
		}
	}
}

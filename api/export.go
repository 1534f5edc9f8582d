package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ledger/middleware"
	"ledger/models"
	"ledger/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ExportHandler 导出处理器
type ExportHandler struct {
	db      *gorm.DB
	entries *service.EntryService
	email   *service.EmailService
}

// NewExportHandler 创建导出处理器
func NewExportHandler(db *gorm.DB, entries *service.EntryService, email *service.EmailService) *ExportHandler {
	return &ExportHandler{db: db, entries: entries, email: email}
}

// dateRange 读取可选的 start_date/end_date
func dateRange(c *gin.Context) (string, string, bool) {
	start, end := c.Query("start_date"), c.Query("end_date")
	for _, d := range []string{start, end} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			BadRequest(c, "dates must be in YYYY-MM-DD format")
			return "", "", false
		}
	}
	if start != "" && end != "" && start > end {
		BadRequest(c, "start_date must not be after end_date")
		return "", "", false
	}
	return start, end, true
}

func (h *ExportHandler) load(c *gin.Context) ([]models.EntryView, string, string, bool) {
	start, end, ok := dateRange(c)
	if !ok {
		return nil, "", "", false
	}
	views, err := h.entries.ListWithLookups(c.Request.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		ServiceError(c, err, "failed to load entries")
		return nil, "", "", false
	}
	return service.FilterByDate(views, start, end), start, end, true
}

func exportFilename(start, end, ext string) string {
	if start == "" && end == "" {
		return "purchases." + ext
	}
	return fmt.Sprintf("purchases_%s_%s.%s", start, end, ext)
}

// ExportCSV 导出为 CSV
// @Summary 导出购买记录（CSV）
// @Tags 导出
// @Produce text/csv
// @Security BearerAuth
// @Param start_date query string false "开始日期 (2024-01-01)"
// @Param end_date query string false "结束日期 (2024-12-31)"
// @Success 200 {file} file "CSV 文件"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/export/csv [get]
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	views, start, end, ok := h.load(c)
	if !ok {
		return
	}

	buf := new(bytes.Buffer)
	if err := service.WriteEntriesCSV(buf, views); err != nil {
		InternalError(c, "failed to generate CSV")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", exportFilename(start, end, "csv")))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// ExportJSON 导出为 JSON
// @Summary 导出购买记录（JSON）
// @Tags 导出
// @Produce json
// @Security BearerAuth
// @Param start_date query string false "开始日期 (2024-01-01)"
// @Param end_date query string false "结束日期 (2024-12-31)"
// @Success 200 {object} Response "导出成功"
// @Failure 400 {object} Response "请求参数错误"
// @Router /api/v1/export/json [get]
func (h *ExportHandler) ExportJSON(c *gin.Context) {
	views, start, end, ok := h.load(c)
	if !ok {
		return
	}

	summary := service.Summarize(views)
	Success(c, gin.H{
		"start_date":    start,
		"end_date":      end,
		"total_count":   summary.Count,
		"total":         summary.Total,
		"total_display": summary.TotalDisplay,
		"entries":       views,
	})
}

// ExportExcel 导出为 Excel
// @Summary 导出购买记录（Excel）
// @Tags 导出
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param start_date query string false "开始日期 (2024-01-01)"
// @Param end_date query string false "结束日期 (2024-12-31)"
// @Success 200 {file} file "Excel 文件"
// @Failure 400 {object} Response "请求参数错误"
// @Router /api/v1/export/excel [get]
func (h *ExportHandler) ExportExcel(c *gin.Context) {
	views, start, end, ok := h.load(c)
	if !ok {
		return
	}

	f, err := service.BuildEntriesXLSX(views)
	if err != nil {
		InternalError(c, "failed to generate Excel")
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(exportFilename(start, end, "xlsx"))))
	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "failed to generate Excel")
		return
	}
}

// EmailReportRequest 邮件发送报表
type EmailReportRequest struct {
	Email     string `json:"email" binding:"omitempty,email" example:"alice@example.com"` // 为空时发送到账号邮箱
	StartDate string `json:"start_date" example:"2024-01-01"`
	EndDate   string `json:"end_date" example:"2024-12-31"`
}

// EmailReport 通过邮件发送 Excel 报表
// @Summary 邮件发送报表
// @Tags 导出
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body EmailReportRequest true "收件人与日期范围"
// @Success 200 {object} Response "发送成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 503 {object} Response "邮件服务未启用"
// @Router /api/v1/export/email [post]
func (h *ExportHandler) EmailReport(c *gin.Context) {
	if h.email == nil || !h.email.Enabled() {
		Error(c, http.StatusServiceUnavailable, "email service is disabled")
		return
	}

	var req EmailReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q := c.Request.URL.Query()
	q.Set("start_date", req.StartDate)
	q.Set("end_date", req.EndDate)
	c.Request.URL.RawQuery = q.Encode()

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, middleware.GetCurrentUserID(c)).Error; err != nil {
		NotFound(c, "user not found")
		return
	}
	to := req.Email
	if to == "" {
		to = user.Email
	}
	if to == "" {
		BadRequest(c, "no email address on the account")
		return
	}

	views, start, end, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.email.SendEntriesReportFor(to, user.Username, views, start, end); err != nil {
		ServiceError(c, err, "failed to send report")
		return
	}
	SuccessWithMessage(c, "report sent", gin.H{"email": to, "count": len(views)})
}

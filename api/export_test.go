package api

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"ledger/config"
	"ledger/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func newExportRouter(t *testing.T, db *gorm.DB, email *service.EmailService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	entries := service.NewEntryService(db, service.NewLookupService(db, ""), nil)
	h := NewExportHandler(db, entries, email)
	eh := NewEntryHandler(entries, nil)

	router := gin.New()
	router.Use(setUserIDMiddleware(1))
	router.POST("/entries", eh.Create)
	router.GET("/export/csv", h.ExportCSV)
	router.GET("/export/json", h.ExportJSON)
	router.GET("/export/excel", h.ExportExcel)
	router.POST("/export/email", h.EmailReport)
	return router
}

func seedExportEntries(t *testing.T, router *gin.Engine) {
	for _, d := range []string{"2024-01-10", "2024-02-10", "2024-03-10"} {
		w := postJSON(router, "/entries", entryBody("item "+d, d))
		require.Equal(t, 200, w.Code, w.Body.String())
	}
}

func TestExportHandler_ExportCSV(t *testing.T) {
	router := newExportRouter(t, setupSQLiteDB(t), nil)
	seedExportEntries(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/export/csv?start_date=2024-02-01&end_date=2024-03-31", nil))

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "purchases_2024-02-01_2024-03-31.csv")
	body := w.Body.String()
	assert.Contains(t, body, "ID,Date,Name")
	assert.Contains(t, body, "item 2024-03-10")
	assert.NotContains(t, body, "item 2024-01-10")
	assert.Contains(t, body, "6,00 €")
}

func TestExportHandler_InvalidDates(t *testing.T) {
	router := newExportRouter(t, setupSQLiteDB(t), nil)

	for _, q := range []string{"?start_date=01-01-2024", "?start_date=2024-03-01&end_date=2024-01-01"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/export/csv"+q, nil))
		assert.Equal(t, 400, w.Code, q)
	}
}

func TestExportHandler_ExportJSON(t *testing.T) {
	router := newExportRouter(t, setupSQLiteDB(t), nil)
	seedExportEntries(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/export/json", nil))
	require.Equal(t, 200, w.Code)

	data := decodeResponse(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["total_count"])
	assert.Equal(t, float64(900), data["total"])
	assert.Len(t, data["entries"], 3)
}

func TestExportHandler_ExportExcel(t *testing.T) {
	router := newExportRouter(t, setupSQLiteDB(t), nil)
	seedExportEntries(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/export/excel", nil))
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "purchases.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Purchases")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, "item 2024-03-10", rows[1][2])
}

func TestExportHandler_EmailReport_Disabled(t *testing.T) {
	email := service.NewEmailService(&config.EmailConfig{Enabled: false})
	router := newExportRouter(t, setupSQLiteDB(t), email)

	w := postJSON(router, "/export/email", `{"email":"a@example.com"}`)
	assert.Equal(t, 503, w.Code)
}

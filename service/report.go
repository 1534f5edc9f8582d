package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"ledger/models"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Purchases"

var reportHeaders = []string{"ID", "Date", "Name", "Category", "Store", "Quantity", "Price", "Total"}

// FilterByDate 按购买日期闭区间过滤，空字符串表示不限
// 日期为 YYYY-MM-DD，字符串比较即日期比较
func FilterByDate(views []models.EntryView, start, end string) []models.EntryView {
	if start == "" && end == "" {
		return views
	}
	out := make([]models.EntryView, 0, len(views))
	for _, v := range views {
		if start != "" && v.PurchaseDate < start {
			continue
		}
		if end != "" && v.PurchaseDate > end {
			continue
		}
		out = append(out, v)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func reportRow(v models.EntryView) []string {
	return []string{
		fmt.Sprintf("%d", v.ID),
		v.PurchaseDate,
		v.Name,
		deref(v.CategoryName),
		deref(v.StoreName),
		fmt.Sprintf("%g", v.Quantity),
		v.PriceDisplay,
		v.TotalDisplay,
	}
}

// WriteEntriesCSV 写出 CSV，带 BOM 以便 Excel 正确识别 UTF-8，末行为合计
func WriteEntriesCSV(w io.Writer, views []models.EntryView) error {
	if _, err := io.WriteString(w, "\xEF\xBB\xBF"); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeaders); err != nil {
		return err
	}

	var total int64
	for _, v := range views {
		if err := writer.Write(reportRow(v)); err != nil {
			return err
		}
		total += v.Total
	}
	if err := writer.Write([]string{"", "", "Total", "", "", "", "", models.FormatCents(total)}); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// BuildEntriesXLSX 生成 Excel 报表，调用方负责 Close
func BuildEntriesXLSX(views []models.EntryView) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		f.Close()
		return nil, err
	}

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	dataStyle, _ := f.NewStyle(&excelize.Style{Border: border})
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Size: 11},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"FFC000"}, Pattern: 1},
		Border: border,
	})

	widths := map[string]float64{"A": 8, "B": 12, "C": 30, "D": 18, "E": 18, "F": 10, "G": 14, "H": 14}
	for col, w := range widths {
		f.SetColWidth(reportSheet, col, col, w)
	}

	for i, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(reportSheet, cell, header)
		f.SetCellStyle(reportSheet, cell, cell, headerStyle)
	}

	var total int64
	for i, v := range views {
		row := i + 2
		values := []interface{}{
			v.ID,
			v.PurchaseDate,
			v.Name,
			deref(v.CategoryName),
			deref(v.StoreName),
			v.Quantity,
			float64(v.Price) / 100,
			float64(v.Total) / 100,
		}
		for col, val := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(reportSheet, cell, val)
		}
		f.SetCellStyle(reportSheet, fmt.Sprintf("A%d", row), fmt.Sprintf("H%d", row), dataStyle)
		total += v.Total
	}

	summaryRow := len(views) + 2
	f.SetCellValue(reportSheet, fmt.Sprintf("A%d", summaryRow), "Total")
	f.MergeCell(reportSheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("B%d", summaryRow))
	f.SetCellValue(reportSheet, fmt.Sprintf("C%d", summaryRow), fmt.Sprintf("%d entries", len(views)))
	f.MergeCell(reportSheet, fmt.Sprintf("C%d", summaryRow), fmt.Sprintf("G%d", summaryRow))
	f.SetCellValue(reportSheet, fmt.Sprintf("H%d", summaryRow), float64(total)/100)
	f.SetCellStyle(reportSheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("H%d", summaryRow), summaryStyle)

	return f, nil
}

// EntriesXLSXBytes 生成 Excel 报表的字节内容
func EntriesXLSXBytes(views []models.EntryView) ([]byte, error) {
	f, err := BuildEntriesXLSX(views)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

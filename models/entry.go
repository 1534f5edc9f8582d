package models

import (
	"math"
	"time"
)

// DateLayout 购买日期格式（ISO-8601 日期）
const DateLayout = "2006-01-02"

// Entry 购买记录，价格以分为单位
type Entry struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	OwnerID      uint      `json:"owner_id" gorm:"index:idx_entries_owner_date,priority:1;not null"`
	Name         string    `json:"name" gorm:"size:255;not null"`
	Quantity     float64   `json:"quantity" gorm:"not null"`
	Price        int64     `json:"price" gorm:"not null"`
	PurchaseDate string    `json:"purchase_date" gorm:"size:10;index:idx_entries_owner_date,priority:2;not null"`
	CategoryID   uint      `json:"category_id" gorm:"index;not null"`
	StoreID      *uint     `json:"store_id" gorm:"index"` // 历史数据可能为空
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 设置表名
func (Entry) TableName() string {
	return "entries"
}

// Total 单价 × 数量，四舍五入到分
func (e Entry) Total() int64 {
	return int64(math.Round(float64(e.Price) * e.Quantity))
}

// EntryView 列表展示模型：记录 + 类别/商店名称 + 实时计算的合计
type EntryView struct {
	Entry
	CategoryName *string `json:"category_name"`
	StoreName    *string `json:"store_name"`
	Total        int64   `json:"total"`
	PriceDisplay string  `json:"price_display"`
	TotalDisplay string  `json:"total_display"`
}

// NewEntryView 构建展示模型，合计每次读取时重新计算
func NewEntryView(e Entry, categoryName, storeName *string) EntryView {
	total := e.Total()
	return EntryView{
		Entry:        e,
		CategoryName: categoryName,
		StoreName:    storeName,
		Total:        total,
		PriceDisplay: FormatCents(e.Price),
		TotalDisplay: FormatCents(total),
	}
}

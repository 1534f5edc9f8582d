package models

import (
	"strings"
	"time"
)

// LookupKind 名称字典类型：类别或商店
type LookupKind string

const (
	KindCategory LookupKind = "category"
	KindStore    LookupKind = "store"
)

// Lookup 类别与商店的公共视图
type Lookup struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// Category 消费类别（按用户隔离，首次使用时创建，不修改不删除）
type Category struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	OwnerID uint   `json:"owner_id" gorm:"not null;uniqueIndex:idx_categories_owner_name_key,priority:1"`
	Name    string `json:"name" gorm:"size:100;not null"`
	// NameKey 规范化名称，仅用于唯一约束
	NameKey   string    `json:"-" gorm:"size:100;not null;uniqueIndex:idx_categories_owner_name_key,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

func (Category) TableName() string {
	return "categories"
}

// Store 商店，与 Category 结构相同、命名空间独立
type Store struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	OwnerID   uint      `json:"owner_id" gorm:"not null;uniqueIndex:idx_stores_owner_name_key,priority:1"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	NameKey   string    `json:"-" gorm:"size:100;not null;uniqueIndex:idx_stores_owner_name_key,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

func (Store) TableName() string {
	return "stores"
}

// LegacyStoreName 历史记录补齐时使用的默认商店
const LegacyStoreName = "Legacy Store"

// NormalizeName 去除首尾空白并转小写，仅用于比较
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

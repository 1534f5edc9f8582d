package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ledger/config"
	"ledger/events"
	"ledger/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const maxEntryNameLen = 255

// CreateEntryInput 新建购买记录的参数
// 类别与商店二选一：传 id 引用已有记录，或传名称按去重规则解析
type CreateEntryInput struct {
	Name         string
	Quantity     float64
	Price        int64
	PriceText    string
	PurchaseDate string
	CategoryID   uint
	CategoryName string
	StoreID      uint
	StoreName    string
}

// EntrySummary 合计汇总
type EntrySummary struct {
	Count        int             `json:"count"`
	Total        int64           `json:"total"`
	TotalDisplay string          `json:"total_display"`
	Categories   []CategoryTotal `json:"categories"`
}

// CategoryTotal 单个类别的合计
type CategoryTotal struct {
	CategoryID   uint    `json:"category_id"`
	CategoryName *string `json:"category_name"`
	Count        int     `json:"count"`
	Total        int64   `json:"total"`
	TotalDisplay string  `json:"total_display"`
}

// EntryService 购买记录的写入、删除与聚合查询
type EntryService struct {
	db        *gorm.DB
	lookups   *LookupService
	publisher events.Publisher
}

// NewEntryService 创建服务，publisher 为 nil 时不发布事件
func NewEntryService(db *gorm.DB, lookups *LookupService, publisher events.Publisher) *EntryService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &EntryService{db: db, lookups: lookups, publisher: publisher}
}

// Create 校验并写入一条购买记录
// 顺序：字段校验 -> id 引用校验 -> 名称解析（可能写入类别/商店）-> 写入记录
// 解析与写入在同一事务内，任一步失败不留下新建的类别/商店
func (s *EntryService) Create(ctx context.Context, owner uint, in CreateEntryInput) (*models.Entry, error) {
	if owner == 0 {
		return nil, newError(ErrAuthentication, "not authenticated")
	}

	entry, err := validateEntryInput(in)
	if err != nil {
		return nil, err
	}
	entry.OwnerID = owner

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookups := s.lookups.withDB(tx)

		if in.CategoryID != 0 {
			if _, err := lookups.Get(ctx, models.KindCategory, owner, in.CategoryID); err != nil {
				return err
			}
			entry.CategoryID = in.CategoryID
		}
		if in.StoreID != 0 {
			if _, err := lookups.Get(ctx, models.KindStore, owner, in.StoreID); err != nil {
				return err
			}
			storeID := in.StoreID
			entry.StoreID = &storeID
		}

		// 按名称引用时总是复用已有记录
		if in.CategoryID == 0 {
			cat, _, err := lookups.ResolveOrCreate(ctx, models.KindCategory, owner, in.CategoryName, config.OnDuplicateReuse)
			if err != nil {
				return err
			}
			entry.CategoryID = cat.ID
		}
		if in.StoreID == 0 {
			store, _, err := lookups.ResolveOrCreate(ctx, models.KindStore, owner, in.StoreName, config.OnDuplicateReuse)
			if err != nil {
				return err
			}
			storeID := store.ID
			entry.StoreID = &storeID
		}

		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("create entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "entry created",
		"owner_id", owner,
		"entry_id", entry.ID,
		"category_id", entry.CategoryID,
		"purchase_date", entry.PurchaseDate)

	s.publisher.Publish(ctx, events.NewEvent(events.EntryCreated, owner, entry.ID))
	return entry, nil
}

func validateEntryInput(in CreateEntryInput) (*models.Entry, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(ErrValidation, "name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxEntryNameLen {
		return nil, newError(ErrValidation, fmt.Sprintf("name must be at most %d characters", maxEntryNameLen))
	}

	if math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) || in.Quantity <= 0 {
		return nil, newError(ErrValidation, "quantity must be a positive number")
	}

	price := in.Price
	if price == 0 && strings.TrimSpace(in.PriceText) != "" {
		parsed, err := models.ParsePriceText(in.PriceText)
		if err != nil {
			return nil, newError(ErrValidation, fmt.Sprintf("invalid price %q", in.PriceText))
		}
		price = parsed
	}
	if price <= 0 {
		return nil, newError(ErrValidation, "price must be a positive amount in cents")
	}

	date := strings.TrimSpace(in.PurchaseDate)
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, newError(ErrValidation, "purchase_date must be a date in YYYY-MM-DD format")
	}

	if in.CategoryID == 0 {
		if strings.TrimSpace(in.CategoryName) == "" {
			return nil, newError(ErrValidation, "category is required")
		}
		if _, _, err := normalizeLookupName(in.CategoryName); err != nil {
			return nil, err
		}
	}
	if in.StoreID == 0 {
		if strings.TrimSpace(in.StoreName) == "" {
			return nil, newError(ErrValidation, "store is required")
		}
		if _, _, err := normalizeLookupName(in.StoreName); err != nil {
			return nil, err
		}
	}

	return &models.Entry{
		Name:         name,
		Quantity:     in.Quantity,
		Price:        price,
		PurchaseDate: date,
	}, nil
}

// Delete 永久删除一条记录，只有所有者可以删除
func (s *EntryService) Delete(ctx context.Context, owner, id uint) error {
	if owner == 0 {
		return newError(ErrAuthentication, "not authenticated")
	}

	var entry models.Entry
	err := s.db.WithContext(ctx).Select("id, owner_id").Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(ErrNotFound, fmt.Sprintf("entry %d not found", id))
	}
	if err != nil {
		return fmt.Errorf("get entry: %w", err)
	}
	if entry.OwnerID != owner {
		return newError(ErrAuthorization, "not allowed to delete this entry")
	}

	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).Delete(&models.Entry{})
	if res.Error != nil {
		return fmt.Errorf("delete entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 并发删除
		return newError(ErrNotFound, fmt.Sprintf("entry %d not found", id))
	}

	slog.InfoContext(ctx, "entry deleted", "owner_id", owner, "entry_id", id)
	s.publisher.Publish(ctx, events.NewEvent(events.EntryDeleted, owner, id))
	return nil
}

// ListRaw 返回用户的全部记录，不保证顺序
func (s *EntryService) ListRaw(ctx context.Context, owner uint) ([]models.Entry, error) {
	if owner == 0 {
		return nil, newError(ErrAuthentication, "not authenticated")
	}
	entries := make([]models.Entry, 0)
	if err := s.db.WithContext(ctx).Where("owner_id = ?", owner).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// ListWithLookups 按购买日期倒序返回记录及类别/商店名称
// 引用已不存在时名称为 null，不报错
func (s *EntryService) ListWithLookups(ctx context.Context, owner uint) ([]models.EntryView, error) {
	if owner == 0 {
		return nil, newError(ErrAuthentication, "not authenticated")
	}

	var entries []models.Entry
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("purchase_date DESC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	categoryIDs := make([]uint, 0, len(entries))
	storeIDs := make([]uint, 0, len(entries))
	seenCat := make(map[uint]bool)
	seenStore := make(map[uint]bool)
	for _, e := range entries {
		if !seenCat[e.CategoryID] {
			seenCat[e.CategoryID] = true
			categoryIDs = append(categoryIDs, e.CategoryID)
		}
		if e.StoreID != nil && !seenStore[*e.StoreID] {
			seenStore[*e.StoreID] = true
			storeIDs = append(storeIDs, *e.StoreID)
		}
	}

	var categoryNames, storeNames map[uint]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		categoryNames, err = s.lookups.Names(gctx, models.KindCategory, owner, categoryIDs)
		return err
	})
	g.Go(func() error {
		var err error
		storeNames, err = s.lookups.Names(gctx, models.KindStore, owner, storeIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := make([]models.EntryView, 0, len(entries))
	for _, e := range entries {
		var storeName *string
		if e.StoreID != nil {
			storeName = nameOf(storeNames, *e.StoreID)
		}
		views = append(views, models.NewEntryView(e, nameOf(categoryNames, e.CategoryID), storeName))
	}
	return views, nil
}

func nameOf(names map[uint]string, id uint) *string {
	if name, ok := names[id]; ok {
		return &name
	}
	return nil
}

// Summary 汇总全部记录的合计及各类别合计，类别按合计从高到低排列
func (s *EntryService) Summary(ctx context.Context, owner uint) (*EntrySummary, error) {
	views, err := s.ListWithLookups(ctx, owner)
	if err != nil {
		return nil, err
	}
	return Summarize(views), nil
}

// Summarize 从展示模型计算汇总
func Summarize(views []models.EntryView) *EntrySummary {
	summary := &EntrySummary{Categories: make([]CategoryTotal, 0)}
	index := make(map[uint]int)
	for _, v := range views {
		summary.Count++
		summary.Total += v.Total

		i, ok := index[v.CategoryID]
		if !ok {
			i = len(summary.Categories)
			index[v.CategoryID] = i
			summary.Categories = append(summary.Categories, CategoryTotal{
				CategoryID:   v.CategoryID,
				CategoryName: v.CategoryName,
			})
		}
		summary.Categories[i].Count++
		summary.Categories[i].Total += v.Total
	}

	sort.SliceStable(summary.Categories, func(a, b int) bool {
		return summary.Categories[a].Total > summary.Categories[b].Total
	})
	for i := range summary.Categories {
		summary.Categories[i].TotalDisplay = models.FormatCents(summary.Categories[i].Total)
	}
	summary.TotalDisplay = models.FormatCents(summary.Total)
	return summary
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"ledger/config"
	"ledger/models"

	"gorm.io/gorm"
)

const maxLookupNameLen = 100

// LookupService 类别/商店的查询与去重创建
// 去重依赖 (owner_id, name_key) 唯一索引，不使用进程内锁
type LookupService struct {
	db            *gorm.DB
	defaultPolicy string
}

// NewLookupService 创建服务，defaultPolicy 为 reuse 或 reject
func NewLookupService(db *gorm.DB, defaultPolicy string) *LookupService {
	if defaultPolicy == "" {
		defaultPolicy = config.OnDuplicateReuse
	}
	return &LookupService{db: db, defaultPolicy: defaultPolicy}
}

// withDB 返回绑定到指定连接（通常是事务）的副本
func (s *LookupService) withDB(db *gorm.DB) *LookupService {
	return &LookupService{db: db, defaultPolicy: s.defaultPolicy}
}

// normalizeLookupName 校验名称并返回去空白的名称与比较键
func normalizeLookupName(raw string) (string, string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "", newError(ErrValidation, "name cannot be empty")
	}
	key := models.NormalizeName(name)
	if utf8.RuneCountInString(name) > maxLookupNameLen || utf8.RuneCountInString(key) > maxLookupNameLen {
		return "", "", newError(ErrValidation, fmt.Sprintf("name must be at most %d characters", maxLookupNameLen))
	}
	return name, key, nil
}

func tableFor(kind models.LookupKind) (string, error) {
	switch kind {
	case models.KindCategory:
		return models.Category{}.TableName(), nil
	case models.KindStore:
		return models.Store{}.TableName(), nil
	}
	return "", fmt.Errorf("unknown lookup kind %q", kind)
}

// List 按创建顺序返回用户的类别/商店，prefix 非空时按规范化前缀过滤
func (s *LookupService) List(ctx context.Context, kind models.LookupKind, owner uint, prefix string) ([]models.Lookup, error) {
	if owner == 0 {
		return nil, newError(ErrAuthentication, "not authenticated")
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Table(table).Select("id, name").Where("owner_id = ?", owner)
	if key := models.NormalizeName(prefix); key != "" {
		q = q.Where("name_key LIKE ? ESCAPE '!'", escapeLike(key)+"%")
	}

	list := make([]models.Lookup, 0)
	if err := q.Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return list, nil
}

// ResolveOrCreate 将用户输入的名称映射为已有或新建的记录
// 返回值 created 表示本次是否插入了新记录
func (s *LookupService) ResolveOrCreate(ctx context.Context, kind models.LookupKind, owner uint, rawName, policy string) (models.Lookup, bool, error) {
	if owner == 0 {
		return models.Lookup{}, false, newError(ErrAuthentication, "not authenticated")
	}
	if policy == "" {
		policy = s.defaultPolicy
	}
	if policy != config.OnDuplicateReuse && policy != config.OnDuplicateReject {
		return models.Lookup{}, false, newError(ErrValidation, fmt.Sprintf("unknown duplicate policy %q", policy))
	}

	name, key, err := normalizeLookupName(rawName)
	if err != nil {
		return models.Lookup{}, false, err
	}

	existing, err := s.findByKey(ctx, kind, owner, key)
	switch {
	case err == nil:
		if policy == config.OnDuplicateReject {
			return models.Lookup{}, false, duplicateError(kind, name)
		}
		return existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.Lookup{}, false, err
	}

	id, err := s.insert(ctx, kind, owner, name, key)
	if isDuplicateKey(err) {
		// 并发插入被唯一约束拦截，以已提交的记录为准
		if policy == config.OnDuplicateReject {
			return models.Lookup{}, false, duplicateError(kind, name)
		}
		existing, err := s.findByKey(ctx, kind, owner, key)
		if err != nil {
			return models.Lookup{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return models.Lookup{}, false, fmt.Errorf("create %s: %w", kind, err)
	}

	slog.InfoContext(ctx, "lookup created",
		"kind", kind,
		"owner_id", owner,
		"id", id,
		"name", name)

	return models.Lookup{ID: id, Name: name}, true, nil
}

type lookupRow struct {
	ID      uint
	Name    string
	OwnerID uint
}

func duplicateError(kind models.LookupKind, name string) error {
	return newError(ErrDuplicate, fmt.Sprintf("%s %q already exists", kind, name))
}

// Get 校验引用：记录必须存在且属于该用户
func (s *LookupService) Get(ctx context.Context, kind models.LookupKind, owner, id uint) (models.Lookup, error) {
	table, err := tableFor(kind)
	if err != nil {
		return models.Lookup{}, err
	}

	var row lookupRow
	err = s.db.WithContext(ctx).Table(table).
		Select("id, name, owner_id").
		Where("id = ?", id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Lookup{}, newError(ErrReference, fmt.Sprintf("%s %d does not exist", kind, id))
	}
	if err != nil {
		return models.Lookup{}, fmt.Errorf("get %s: %w", kind, err)
	}
	if row.OwnerID != owner {
		return models.Lookup{}, newError(ErrReference, fmt.Sprintf("%s %d does not belong to the current user", kind, id))
	}
	return models.Lookup{ID: row.ID, Name: row.Name}, nil
}

// Names 批量读取名称，缺失的 id 不出现在结果中
func (s *LookupService) Names(ctx context.Context, kind models.LookupKind, owner uint, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var rows []models.Lookup
	if err := s.db.WithContext(ctx).Table(table).
		Select("id, name").
		Where("owner_id = ? AND id IN ?", owner, ids).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s names: %w", kind, err)
	}
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}

func (s *LookupService) findByKey(ctx context.Context, kind models.LookupKind, owner uint, key string) (models.Lookup, error) {
	table, err := tableFor(kind)
	if err != nil {
		return models.Lookup{}, err
	}
	var lk models.Lookup
	err = s.db.WithContext(ctx).Table(table).
		Select("id, name").
		Where("owner_id = ? AND name_key = ?", owner, key).
		Take(&lk).Error
	return lk, err
}

func (s *LookupService) insert(ctx context.Context, kind models.LookupKind, owner uint, name, key string) (uint, error) {
	db := s.db.WithContext(ctx)
	switch kind {
	case models.KindStore:
		rec := models.Store{OwnerID: owner, Name: name, NameKey: key}
		err := db.Create(&rec).Error
		return rec.ID, err
	case models.KindCategory:
		rec := models.Category{OwnerID: owner, Name: name, NameKey: key}
		err := db.Create(&rec).Error
		return rec.ID, err
	}
	return 0, fmt.Errorf("unknown lookup kind %q", kind)
}

// escapeLike 转义 LIKE 通配符，转义符为 '!'（MySQL 与 SQLite 通用）
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "!", "!!")
	s = strings.ReplaceAll(s, "%", "!%")
	s = strings.ReplaceAll(s, "_", "!_")
	return s
}

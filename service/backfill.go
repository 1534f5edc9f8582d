package service

import (
	"context"
	"fmt"
	"log/slog"

	"ledger/config"
	"ledger/models"

	"gorm.io/gorm"
)

// BackfillLegacyStores 为缺少商店的历史记录补齐每个用户的 "Legacy Store"
// progress 在每处理完一个用户后回调，可为 nil；返回更新的记录数
func BackfillLegacyStores(ctx context.Context, db *gorm.DB, lookups *LookupService, progress func(done, total int)) (int64, error) {
	var owners []uint
	if err := db.WithContext(ctx).Model(&models.Entry{}).
		Where("store_id IS NULL").
		Distinct().
		Order("owner_id").
		Pluck("owner_id", &owners).Error; err != nil {
		return 0, fmt.Errorf("find owners with legacy entries: %w", err)
	}

	var updated int64
	for i, owner := range owners {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		store, _, err := lookups.ResolveOrCreate(ctx, models.KindStore, owner, models.LegacyStoreName, config.OnDuplicateReuse)
		if err != nil {
			return updated, fmt.Errorf("resolve legacy store for owner %d: %w", owner, err)
		}

		res := db.WithContext(ctx).Model(&models.Entry{}).
			Where("owner_id = ? AND store_id IS NULL", owner).
			Update("store_id", store.ID)
		if res.Error != nil {
			return updated, fmt.Errorf("backfill owner %d: %w", owner, res.Error)
		}
		updated += res.RowsAffected

		slog.InfoContext(ctx, "legacy entries backfilled",
			"owner_id", owner,
			"store_id", store.ID,
			"rows", res.RowsAffected)

		if progress != nil {
			progress(i+1, len(owners))
		}
	}
	return updated, nil
}

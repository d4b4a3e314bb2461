package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInsufficientStock 库存不足
var ErrInsufficientStock = errors.New("库存不足")

// ErrItemNotFound 库存物料不存在
var ErrItemNotFound = errors.New("库存物料不存在")

// StorageItem 库存物料
type StorageItem struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	Name     string `json:"name" gorm:"size:255;not null;uniqueIndex"`
	Quantity int    `json:"quantity" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// StorageMutation 库存变更流水，幂等键兜底队列的至少一次投递
// 唯一索引 (idempotency_key, operation)：重复投递的意图只生效一次。
type StorageMutation struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	IdempotencyKey string `json:"idempotencyKey" gorm:"size:100;not null;uniqueIndex:idx_mutation_idem,priority:1"`
	Operation      string `json:"operation" gorm:"size:20;not null;uniqueIndex:idx_mutation_idem,priority:2"` // deduct, restore
	ItemID         string `json:"itemId" gorm:"type:uuid;not null;index"`
	Quantity       int    `json:"quantity" gorm:"not null"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// Ledger 库存台账协作方
// 引擎只产出扣减意图，这里负责真正的数量变更；
// Deduct/Restore 以幂等键（缺料申请 ID）保证重复投递安全。
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedger 创建库存台账
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, logger: logger.Get()}
}

// Deduct 按幂等键扣减库存
// 同一幂等键重复调用只扣减一次，直接返回成功。
func (l *Ledger) Deduct(ctx context.Context, idempotencyKey, itemName string, quantity int) error {
	return l.mutate(ctx, idempotencyKey, "deduct", itemName, quantity, -quantity)
}

// Restore 按幂等键回补库存（缺料申请取消或退货时）
func (l *Ledger) Restore(ctx context.Context, idempotencyKey, itemName string, quantity int) error {
	return l.mutate(ctx, idempotencyKey, "restore", itemName, quantity, quantity)
}

func (l *Ledger) mutate(ctx context.Context, idempotencyKey, operation, itemName string, quantity, delta int) error {
	if idempotencyKey == "" {
		return fmt.Errorf("幂等键不能为空")
	}
	if quantity <= 0 {
		return fmt.Errorf("数量必须为正数")
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 幂等检查：同一键同一操作只生效一次
		var count int64
		if err := tx.Model(&StorageMutation{}).
			Where("idempotency_key = ? AND operation = ?", idempotencyKey, operation).
			Count(&count).Error; err != nil {
			return fmt.Errorf("查询变更流水失败: %w", err)
		}
		if count > 0 {
			l.logger.Debug("库存变更重复投递，跳过",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("operation", operation),
			)
			return nil
		}

		var item StorageItem
		err := tx.Where("name = ?", itemName).First(&item).Error
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemName)
		}
		if err != nil {
			return fmt.Errorf("查询库存物料失败: %w", err)
		}

		// 扣减时数量不允许为负
		res := tx.Model(&StorageItem{}).
			Where("id = ? AND quantity + ? >= 0", item.ID, delta).
			Update("quantity", gorm.Expr("quantity + ?", delta))
		if res.Error != nil {
			return fmt.Errorf("变更库存数量失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: 物料 %s 现有 %d，需扣减 %d", ErrInsufficientStock, itemName, item.Quantity, quantity)
		}

		mutation := &StorageMutation{
			ID:             uuid.New().String(),
			IdempotencyKey: idempotencyKey,
			Operation:      operation,
			ItemID:         item.ID,
			Quantity:       quantity,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Create(mutation).Error; err != nil {
			return fmt.Errorf("写入变更流水失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("库存已变更",
		zap.String("operation", operation),
		zap.String("item", itemName),
		zap.Int("quantity", quantity),
		zap.String("idempotency_key", idempotencyKey),
	)
	return nil
}

// GetItem 查询库存物料
func (l *Ledger) GetItem(ctx context.Context, name string) (*StorageItem, error) {
	var item StorageItem
	err := l.db.WithContext(ctx).Where("name = ?", name).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("查询库存物料失败: %w", err)
	}
	return &item, nil
}

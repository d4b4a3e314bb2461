package storage

import (
	"errors"

	"backend/internal/common"
	"backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// StorageHandler 库存查询 Handler
type StorageHandler struct {
	ledger *storage.Ledger
}

// NewStorageHandler 创建 StorageHandler 实例
func NewStorageHandler(ledger *storage.Ledger) *StorageHandler {
	return &StorageHandler{ledger: ledger}
}

// GetItem 按名称查询库存物品
func (h *StorageHandler) GetItem(c *gin.Context) {
	item, err := h.ledger.GetItem(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			common.ResponseError(c, common.CodeItemNotFound, err.Error())
			return
		}
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseSuccess(c, item)
}

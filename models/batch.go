package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Batch is one intake lot of a product. Qty is the intake amount and never
// changes after creation; RemainingQty is drawn down by sales.
type Batch struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	BatchNumber   string          `gorm:"size:100;index;not null" json:"batch_number" binding:"required"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"purchase_price"`
	SellingPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"selling_price"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	RemainingQty  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"remaining_qty"`
	PurchaseDate  time.Time       `gorm:"index;not null" json:"purchase_date"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave enforces 0 <= remaining_qty <= qty on every write path.
func (b *Batch) BeforeSave(tx *gorm.DB) error {
	if b.RemainingQty.IsNegative() {
		return &ValidationError{Reason: fmt.Sprintf("batch %s remaining qty cannot be negative", b.BatchNumber)}
	}
	if b.RemainingQty.Cmp(b.Qty) > 0 {
		return &ValidationError{Reason: fmt.Sprintf("batch %s remaining qty cannot exceed intake qty", b.BatchNumber)}
	}
	return nil
}

type NewBatch struct {
	ProductId     int             `json:"product_id" binding:"required"`
	BatchNumber   string          `json:"batch_number" binding:"required"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Qty           decimal.Decimal `json:"qty"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
	LocationId    *int            `json:"location_id"`
}

func (input *NewBatch) validate(ctx context.Context, businessId string, id int) error {
	if len(input.BatchNumber) == 0 {
		return &ValidationError{Reason: "batch number is required"}
	}
	if err := utils.ValidateUnique[Batch](ctx, businessId, "batch_number", input.BatchNumber, id); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if !input.PurchasePrice.IsPositive() || !input.SellingPrice.IsPositive() {
		return &ValidationError{Reason: "purchase and selling price must be positive"}
	}
	if input.SellingPrice.Cmp(input.PurchasePrice) < 0 {
		return &ValidationError{Reason: "selling price cannot be below purchase price"}
	}
	if !input.Qty.IsPositive() {
		return &ValidationError{Reason: "qty must be positive"}
	}
	if input.PurchaseDate.IsZero() {
		return &ValidationError{Reason: "purchase date is required"}
	}
	return nil
}

// CreateBatch records an intake lot with remaining_qty = qty and refreshes the
// product's derived master quantity in the same transaction.
func CreateBatch(ctx context.Context, input *NewBatch) (*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Product](ctx, businessId, input.ProductId); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	batch := Batch{
		BusinessId:    businessId,
		ProductId:     input.ProductId,
		BatchNumber:   input.BatchNumber,
		PurchasePrice: input.PurchasePrice,
		SellingPrice:  input.SellingPrice,
		Qty:           input.Qty,
		RemainingQty:  input.Qty,
		PurchaseDate:  input.PurchaseDate,
		ExpiryDate:    input.ExpiryDate,
	}
	if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := recomputeMasterQuantityTx(ctx, tx, businessId, input.ProductId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.LocationId != nil {
		if err := addLocationInventoryTx(ctx, tx, businessId, *input.LocationId, input.ProductId, input.Qty); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := createHistory(tx, HistoryActionCreate, batch.ID, string(ActivityReferenceTypeBatch), nil, batch,
		fmt.Sprintf("Batch %s received (%s units).", batch.BatchNumber, batch.Qty.String())); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToActivity(ctx, tx, businessId, batch.ID, ActivityReferenceTypeBatch, ActivityActionBatchCreated, batch); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	utils.RemoveRedisItem[Product](input.ProductId)
	utils.RemoveRedisList[Product](businessId)
	return &batch, nil
}

func GetBatch(ctx context.Context, id int) (*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Batch](ctx, businessId, id)
}

// GetBatchesByProduct returns the product's batches in consumption order:
// purchase_date ascending, id ascending as the tiebreak.
func GetBatchesByProduct(ctx context.Context, productId int) ([]*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var batches []*Batch
	if err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Order("purchase_date, id").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// eligibleBatchesTx loads batches with stock left, oldest first, inside tx.
// With forUpdate the rows are locked until the surrounding commit, which is
// what keeps two concurrent checkouts from draining the same lot.
func eligibleBatchesTx(ctx context.Context, tx *gorm.DB, businessId string, productId int, forUpdate bool) ([]*Batch, error) {
	dbCtx := tx.WithContext(ctx).
		Where("business_id = ? AND product_id = ? AND remaining_qty > 0", businessId, productId).
		Order("purchase_date, id")
	if forUpdate {
		dbCtx = dbCtx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var batches []*Batch
	if err := dbCtx.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

type UpdateBatchInput struct {
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Qty           decimal.Decimal `json:"qty"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
}

// UpdateBatch corrects an intake record. The consumed amount so far is
// preserved: remaining becomes new qty minus what was already drawn down,
// floored at zero, and the correction is rejected outright when it would
// imply more consumption than the new qty allows.
func UpdateBatch(ctx context.Context, id int, input *UpdateBatchInput) (*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if !input.PurchasePrice.IsPositive() || !input.SellingPrice.IsPositive() {
		return nil, &ValidationError{Reason: "purchase and selling price must be positive"}
	}
	if input.SellingPrice.Cmp(input.PurchasePrice) < 0 {
		return nil, &ValidationError{Reason: "selling price cannot be below purchase price"}
	}
	if !input.Qty.IsPositive() {
		return nil, &ValidationError{Reason: "qty must be positive"}
	}

	db := config.GetDB()
	tx := db.Begin()

	var batch Batch
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, id).
		First(&batch).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	consumed := batch.Qty.Sub(batch.RemainingQty)
	if consumed.Cmp(input.Qty) > 0 {
		tx.Rollback()
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"batch %s already has %s units consumed; qty cannot go below that", batch.BatchNumber, consumed.String())}
	}

	before := batch
	batch.PurchasePrice = input.PurchasePrice
	batch.SellingPrice = input.SellingPrice
	batch.Qty = input.Qty
	batch.RemainingQty = input.Qty.Sub(consumed)
	batch.PurchaseDate = input.PurchaseDate
	batch.ExpiryDate = input.ExpiryDate

	if err := tx.WithContext(ctx).Save(&batch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recomputeMasterQuantityTx(ctx, tx, businessId, batch.ProductId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx, HistoryActionUpdate, batch.ID, string(ActivityReferenceTypeBatch), before, batch,
		fmt.Sprintf("Batch %s corrected.", batch.BatchNumber)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToActivity(ctx, tx, businessId, batch.ID, ActivityReferenceTypeBatch, ActivityActionBatchUpdated, batch); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	utils.RemoveRedisItem[Product](batch.ProductId)
	utils.RemoveRedisList[Product](businessId)
	return &batch, nil
}

// DeleteBatch removes an intake record. Batches referenced by any sale's
// consumption rows stay put so the ledger keeps adding up.
func DeleteBatch(ctx context.Context, id int) (*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	batch, err := utils.FetchModel[Batch](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[BatchConsumption](ctx, businessId, "batch_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &ConflictError{Reason: fmt.Sprintf("batch %s has recorded sales", batch.BatchNumber)}
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Delete(batch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recomputeMasterQuantityTx(ctx, tx, businessId, batch.ProductId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx, HistoryActionDelete, batch.ID, string(ActivityReferenceTypeBatch), batch, nil,
		fmt.Sprintf("Batch %s removed.", batch.BatchNumber)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToActivity(ctx, tx, businessId, batch.ID, ActivityReferenceTypeBatch, ActivityActionBatchDeleted, batch); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	utils.RemoveRedisItem[Product](batch.ProductId)
	utils.RemoveRedisList[Product](businessId)
	return batch, nil
}

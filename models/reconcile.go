package models

import (
	"context"
	"errors"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// recomputeMasterQuantityTx rewrites the product's master_quantity from the
// sum of its batches' remaining_qty. Every write path that touches batch
// stock calls this inside its own transaction, so the cached column can only
// drift when rows are edited outside the model layer.
func recomputeMasterQuantityTx(ctx context.Context, tx *gorm.DB, businessId string, productId int) error {
	var total decimal.NullDecimal
	err := tx.WithContext(ctx).Model(&Batch{}).
		Select("SUM(remaining_qty)").
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Scan(&total).Error
	if err != nil {
		return err
	}
	master := decimal.Zero
	if total.Valid {
		master = total.Decimal
	}
	return tx.WithContext(ctx).Model(&Product{}).
		Where("business_id = ? AND id = ?", businessId, productId).
		Update("master_quantity", master).Error
}

// RecomputeMasterQuantity refreshes one product's cached counter and returns
// the recomputed value.
func RecomputeMasterQuantity(ctx context.Context, productId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Product](ctx, businessId, productId); err != nil {
		return decimal.Zero, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := recomputeMasterQuantityTx(ctx, tx, businessId, productId); err != nil {
		tx.Rollback()
		return decimal.Zero, err
	}
	if err := tx.Commit().Error; err != nil {
		return decimal.Zero, err
	}

	product, err := utils.FetchModel[Product](ctx, businessId, productId)
	if err != nil {
		return decimal.Zero, err
	}
	utils.RemoveRedisItem[Product](productId)
	return product.MasterQuantity, nil
}

// ReconcileResult compares batch-level truth with the per-location counters.
type ReconcileResult struct {
	ProductId      int             `json:"product_id"`
	MasterQuantity decimal.Decimal `json:"master_quantity"`
	LocationTotal  decimal.Decimal `json:"location_total"`
	Diff           decimal.Decimal `json:"diff"`
	HasMismatch    bool            `json:"has_mismatch"`
}

// Reconcile recomputes master_quantity from batches and reports how far the
// location counters have drifted from it (diff = master - sum of locations).
// Location rows are only read; fixing them is a stocktake decision, not ours.
func Reconcile(ctx context.Context, productId int) (*ReconcileResult, error) {
	master, err := RecomputeMasterQuantity(ctx, productId)
	if err != nil {
		return nil, err
	}

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	db := config.GetDB()

	var locTotal decimal.NullDecimal
	err = db.WithContext(ctx).Model(&LocationInventory{}).
		Select("SUM(qty)").
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Scan(&locTotal).Error
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	if locTotal.Valid {
		total = locTotal.Decimal
	}

	diff := master.Sub(total)
	return &ReconcileResult{
		ProductId:      productId,
		MasterQuantity: master,
		LocationTotal:  total,
		Diff:           diff,
		HasMismatch:    !diff.IsZero(),
	}, nil
}

// ReconcileAll runs the reconciler across every product of the business and
// returns only the mismatched ones.
func ReconcileAll(ctx context.Context) ([]*ReconcileResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var productIds []int
	if err := db.WithContext(ctx).Model(&Product{}).
		Where("business_id = ?", businessId).
		Order("id").
		Pluck("id", &productIds).Error; err != nil {
		return nil, err
	}

	var mismatches []*ReconcileResult
	for _, id := range productIds {
		result, err := Reconcile(ctx, id)
		if err != nil {
			return nil, err
		}
		if result.HasMismatch {
			mismatches = append(mismatches, result)
		}
	}
	return mismatches, nil
}

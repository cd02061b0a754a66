package models

import (
	"context"
	"errors"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

// BatchPortion is one slice of an allocation plan: take Qty units from Batch,
// priced and costed at that batch's rates.
type BatchPortion struct {
	Batch     *Batch          `json:"batch"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// allocateAcrossBatches walks batches (already in consumption order) and
// carves out portions until requested is covered. Pure: the batches are not
// mutated. When stock runs out the uncovered remainder is reported through
// InsufficientStockError.
func allocateAcrossBatches(productId int, batches []*Batch, requested decimal.Decimal) ([]BatchPortion, error) {
	if !requested.IsPositive() {
		return nil, &InvalidArgumentError{Reason: "requested qty must be positive"}
	}

	var portions []BatchPortion
	remainder := requested
	for _, batch := range batches {
		if !batch.RemainingQty.IsPositive() {
			continue
		}
		take := utils.MinDecimal(batch.RemainingQty, remainder)
		portions = append(portions, BatchPortion{
			Batch:     batch,
			Qty:       take,
			UnitPrice: batch.SellingPrice,
			UnitCost:  batch.PurchasePrice,
		})
		remainder = remainder.Sub(take)
		if remainder.IsZero() {
			return portions, nil
		}
	}
	return nil, &InsufficientStockError{ProductId: productId, Remainder: remainder}
}

// Allocate plans a FIFO draw of qty units of the product without writing
// anything. Callers that need the plan to stay valid take it again inside
// CreateSale's locked transaction.
func Allocate(ctx context.Context, productId int, qty decimal.Decimal) ([]BatchPortion, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Product](ctx, businessId, productId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	batches, err := eligibleBatchesTx(ctx, db, businessId, productId, false)
	if err != nil {
		return nil, err
	}
	return allocateAcrossBatches(productId, batches, qty)
}

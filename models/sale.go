package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

type Sale struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	SaleNumber   string          `gorm:"size:100;index;not null" json:"sale_number"`
	SequenceNo   decimal.Decimal `gorm:"type:decimal(15);not null" json:"sequence_no"`
	SaleDate     time.Time       `gorm:"index;not null" json:"sale_date"`
	CustomerId   *int            `gorm:"index" json:"customer_id"`
	LocationId   *int            `gorm:"index" json:"location_id"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Discount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"discount"`
	FinalAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"final_amount"`
	PaidAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"paid_amount"`
	CreditAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"credit_amount"`
	Notes        string          `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	SaleLines []SaleLine `gorm:"foreignKey:SaleId" json:"sale_lines"`
}

// SaleLine is one batch portion of a sale. A requested item that spans N
// batches materializes as N lines, each priced at its batch's selling price.
type SaleLine struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	SaleId     int             `gorm:"index;not null" json:"sale_id"`
	ProductId  int             `gorm:"index;not null" json:"product_id"`
	BatchId    int             `gorm:"index;not null" json:"batch_id"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	LineTotal  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// BatchConsumption links a sale line back to the batch it drew from, keeping
// the draw amount even after the batch or product record is later edited.
type BatchConsumption struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	SaleId     int             `gorm:"index;not null" json:"sale_id"`
	SaleLineId int             `gorm:"index;not null" json:"sale_line_id"`
	ProductId  int             `gorm:"index;not null" json:"product_id"`
	BatchId    int             `gorm:"index;not null" json:"batch_id"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSaleItem struct {
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty"`
}

type NewSale struct {
	SaleDate   time.Time       `json:"sale_date"`
	CustomerId *int            `json:"customer_id"`
	LocationId *int            `json:"location_id"`
	Discount   decimal.Decimal `json:"discount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Notes      string          `json:"notes"`
	Items      []NewSaleItem   `json:"items" binding:"required"`
}

func (input *NewSale) validate(ctx context.Context, businessId string) error {
	if len(input.Items) == 0 {
		return &ValidationError{Reason: "sale needs at least one item"}
	}
	if input.Discount.IsNegative() {
		return &ValidationError{Reason: "discount cannot be negative"}
	}
	if input.PaidAmount.IsNegative() {
		return &ValidationError{Reason: "paid amount cannot be negative"}
	}
	seen := map[int]bool{}
	for _, item := range input.Items {
		if !item.Qty.IsPositive() {
			return &InvalidArgumentError{Reason: fmt.Sprintf("qty for product %d must be positive", item.ProductId)}
		}
		if seen[item.ProductId] {
			return &ValidationError{Reason: fmt.Sprintf("product %d appears more than once", item.ProductId)}
		}
		seen[item.ProductId] = true
		if err := utils.ValidateResourceId[Product](ctx, businessId, item.ProductId); err != nil {
			return err
		}
	}
	if input.CustomerId != nil {
		if err := utils.ValidateResourceId[Customer](ctx, businessId, *input.CustomerId); err != nil {
			return errors.New("customer not found")
		}
	}
	if input.LocationId != nil {
		if err := utils.ValidateResourceId[Location](ctx, businessId, *input.LocationId); err != nil {
			return errors.New("location not found")
		}
	}
	return nil
}

// CreateSale materializes a sale in one transaction. Eligible batches of each
// item are loaded FOR UPDATE, the FIFO plan is computed against the locked
// rows, and only a plan that fully covers every item proceeds: sale lines and
// consumption rows are written, batch remainders are drawn down and the
// products' master quantities recomputed. Any failure rolls back the whole
// sale, leaving no partial draw behind.
func CreateSale(ctx context.Context, input *NewSale) (*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	saleDate := input.SaleDate
	if saleDate.IsZero() {
		saleDate = time.Now().UTC()
	}

	db := config.GetDB()
	tx := db.Begin()

	// Plan every item against locked batch rows before writing anything, so
	// an InsufficientStockError on the last item costs no cleanup. Items are
	// planned in product-id order so concurrent sales always take batch row
	// locks in the same order and cannot deadlock each other.
	items := make([]NewSaleItem, len(input.Items))
	copy(items, input.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductId < items[j].ProductId })

	type itemPlan struct {
		productId int
		portions  []BatchPortion
	}
	plans := make([]itemPlan, 0, len(items))
	for _, item := range items {
		batches, err := eligibleBatchesTx(ctx, tx, businessId, item.ProductId, true)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		portions, err := allocateAcrossBatches(item.ProductId, batches, item.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		plans = append(plans, itemPlan{productId: item.ProductId, portions: portions})
	}

	seqNo, err := utils.GetSequence[Sale](ctx, businessId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	sale := Sale{
		BusinessId: businessId,
		SaleNumber: fmt.Sprintf("SAL-%06d", seqNo),
		SequenceNo: decimal.NewFromInt(seqNo),
		SaleDate:   saleDate,
		CustomerId: input.CustomerId,
		LocationId: input.LocationId,
		Notes:      input.Notes,
	}
	if err := tx.WithContext(ctx).Create(&sale).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	total := decimal.Zero
	for _, plan := range plans {
		for _, portion := range plan.portions {
			lineTotal := portion.Qty.Mul(portion.UnitPrice)
			line := SaleLine{
				BusinessId: businessId,
				SaleId:     sale.ID,
				ProductId:  plan.productId,
				BatchId:    portion.Batch.ID,
				Qty:        portion.Qty,
				UnitPrice:  portion.UnitPrice,
				LineTotal:  lineTotal,
			}
			if err := tx.WithContext(ctx).Create(&line).Error; err != nil {
				tx.Rollback()
				return nil, err
			}

			consumption := BatchConsumption{
				BusinessId: businessId,
				SaleId:     sale.ID,
				SaleLineId: line.ID,
				ProductId:  plan.productId,
				BatchId:    portion.Batch.ID,
				Qty:        portion.Qty,
			}
			if err := tx.WithContext(ctx).Create(&consumption).Error; err != nil {
				tx.Rollback()
				return nil, err
			}

			// Save on the loaded row keeps the BeforeSave range check on the
			// decrement path.
			portion.Batch.RemainingQty = portion.Batch.RemainingQty.Sub(portion.Qty)
			if err := tx.WithContext(ctx).Save(portion.Batch).Error; err != nil {
				tx.Rollback()
				return nil, err
			}

			total = total.Add(lineTotal)
			sale.SaleLines = append(sale.SaleLines, line)
		}
		if err := recomputeMasterQuantityTx(ctx, tx, businessId, plan.productId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// Settlement math happens after the plan fixes the line totals, since
	// discount and paid amount are bounded by amounts not known up front.
	if input.Discount.Cmp(total) > 0 {
		tx.Rollback()
		return nil, &ValidationError{Reason: "discount cannot exceed the sale total"}
	}
	final := total.Sub(input.Discount)
	if input.PaidAmount.Cmp(final) > 0 {
		tx.Rollback()
		return nil, &ValidationError{Reason: "paid amount cannot exceed the amount due"}
	}

	sale.TotalAmount = total
	sale.Discount = input.Discount
	sale.FinalAmount = final
	sale.PaidAmount = input.PaidAmount
	sale.CreditAmount = final.Sub(input.PaidAmount)
	if err := tx.WithContext(ctx).Model(&Sale{}).
		Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"total_amount":  sale.TotalAmount,
			"discount":      sale.Discount,
			"final_amount":  sale.FinalAmount,
			"paid_amount":   sale.PaidAmount,
			"credit_amount": sale.CreditAmount,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := createHistory(tx, HistoryActionCreate, sale.ID, string(ActivityReferenceTypeSale), nil, sale,
		fmt.Sprintf("Sale %s created for %s.", sale.SaleNumber, final.String())); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToActivity(ctx, tx, businessId, sale.ID, ActivityReferenceTypeSale, ActivityActionSaleCreated, sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	for _, plan := range plans {
		utils.RemoveRedisItem[Product](plan.productId)
	}
	utils.RemoveRedisList[Product](businessId)
	return &sale, nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Sale](ctx, businessId, id, "SaleLines")
}

func GetSales(ctx context.Context, fromDate *time.Time, toDate *time.Time, customerId *int) ([]*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Sale

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if fromDate != nil {
		dbCtx = dbCtx.Where("sale_date >= ?", fromDate)
	}
	if toDate != nil {
		dbCtx = dbCtx.Where("sale_date <= ?", toDate)
	}
	if customerId != nil && *customerId > 0 {
		dbCtx = dbCtx.Where("customer_id = ?", customerId)
	}
	if err := dbCtx.Preload("SaleLines").Order("sale_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetBatchConsumptions returns the draw history of one batch, newest first.
func GetBatchConsumptions(ctx context.Context, batchId int) ([]*BatchConsumption, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*BatchConsumption
	if err := db.WithContext(ctx).
		Where("business_id = ? AND batch_id = ?", businessId, batchId).
		Order("id DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

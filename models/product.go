package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int              `gorm:"primary_key" json:"id"`
	BusinessId    string           `gorm:"index;not null" json:"business_id"`
	ProductCode   string           `gorm:"size:100;index;not null" json:"product_code"`
	Sku           string           `gorm:"size:100;index;not null" json:"sku" binding:"required"`
	Name          string           `gorm:"size:255;not null" json:"name" binding:"required"`
	PurchasePrice decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	SellingPrice  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	CartonPrice   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"carton_price"`
	PackSize      *int             `json:"pack_size"`
	// MasterQuantity is a derived cache of sum(batch.remaining_qty); batches
	// are the source of truth and the reconciler recomputes this column.
	MasterQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"master_quantity"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Batches []Batch `gorm:"foreignKey:ProductId" json:"batches"`
}

type NewProduct struct {
	Sku             string           `json:"sku" binding:"required"`
	Name            string           `json:"name" binding:"required"`
	PurchasePrice   decimal.Decimal  `json:"purchase_price"`
	SellingPrice    decimal.Decimal  `json:"selling_price"`
	CartonPrice     *decimal.Decimal `json:"carton_price"`
	PackSize        *int             `json:"pack_size"`
	OpeningQuantity decimal.Decimal  `json:"opening_quantity"`
}

var skuRe = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)

// ValidateSku checks the SKU grammar (a run of letters followed by a run of
// digits, e.g. "MOUSE01"). Pure; persistence-level uniqueness is separate.
func ValidateSku(sku string) error {
	if sku == "" {
		return &ValidationError{Reason: "sku is required"}
	}
	if !skuRe.MatchString(sku) {
		return &ValidationError{Reason: fmt.Sprintf("sku %q must be letters followed by digits", sku)}
	}
	return nil
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProduct) validate(ctx context.Context, businessId string, id int) error {
	if err := ValidateSku(input.Sku); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if !input.PurchasePrice.IsPositive() || !input.SellingPrice.IsPositive() {
		return &ValidationError{Reason: "purchase and selling price must be positive"}
	}
	if input.SellingPrice.Cmp(input.PurchasePrice) < 0 {
		return &ValidationError{Reason: "selling price cannot be below purchase price"}
	}
	if input.OpeningQuantity.IsNegative() {
		return &ValidationError{Reason: "opening quantity cannot be negative"}
	}
	if input.CartonPrice != nil && !input.CartonPrice.IsPositive() {
		return &ValidationError{Reason: "carton price must be positive"}
	}
	if input.PackSize != nil && *input.PackSize <= 0 {
		return &ValidationError{Reason: "pack size must be positive"}
	}
	return nil
}

// CreateProduct creates the product, issues its product code from the locked
// sequence row and seeds the synthetic INIT batch with the declared opening
// quantity, so day-one stock is itself FIFO-eligible.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	code, err := nextProductCodeTx(ctx, tx, businessId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	product := Product{
		BusinessId:     businessId,
		ProductCode:    code,
		Sku:            input.Sku,
		Name:           input.Name,
		PurchasePrice:  input.PurchasePrice,
		SellingPrice:   input.SellingPrice,
		CartonPrice:    input.CartonPrice,
		PackSize:       input.PackSize,
		MasterQuantity: input.OpeningQuantity,
		IsActive:       utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	initBatch := Batch{
		BusinessId:    businessId,
		ProductId:     product.ID,
		BatchNumber:   "INIT-" + code,
		PurchasePrice: input.PurchasePrice,
		SellingPrice:  input.SellingPrice,
		Qty:           input.OpeningQuantity,
		RemainingQty:  input.OpeningQuantity,
		PurchaseDate:  time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&initBatch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := recomputeMasterQuantityTx(ctx, tx, businessId, product.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := createHistory(tx, HistoryActionCreate, product.ID, string(ActivityReferenceTypeProduct), nil, product,
		fmt.Sprintf("Product %s (%s) created.", product.Name, product.ProductCode)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToActivity(ctx, tx, businessId, product.ID, ActivityReferenceTypeProduct, ActivityActionProductCreated, product); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	utils.RemoveRedisList[Product](businessId)
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	cached, err := utils.RetrieveRedis[Product](id)
	if err == nil && cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id, "Batches")
	if err != nil {
		return nil, err
	}
	utils.StoreRedis[Product](product, product.ID)
	return product, nil
}

func GetProductsAll(ctx context.Context, name *string) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Product

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	} else {
		if cached, err := utils.RetrieveRedisList[Product](businessId); err == nil && cached != nil {
			return cached, nil
		}
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	if name == nil || len(*name) == 0 {
		utils.StoreRedisList[Product](results, businessId)
	}
	return results, nil
}

type UpdateProductInput struct {
	Name          string           `json:"name" binding:"required"`
	PurchasePrice decimal.Decimal  `json:"purchase_price"`
	SellingPrice  decimal.Decimal  `json:"selling_price"`
	CartonPrice   *decimal.Decimal `json:"carton_price"`
	PackSize      *int             `json:"pack_size"`
	IsActive      *bool            `json:"is_active"`
}

func UpdateProduct(ctx context.Context, id int, input *UpdateProductInput) (*Product, error) {
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

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(product).Updates(map[string]interface{}{
		"Name":          input.Name,
		"PurchasePrice": input.PurchasePrice,
		"SellingPrice":  input.SellingPrice,
		"CartonPrice":   input.CartonPrice,
		"PackSize":      input.PackSize,
		"IsActive":      input.IsActive,
	}).Error; err != nil {
		return nil, err
	}

	utils.RemoveRedisItem[Product](id)
	utils.RemoveRedisList[Product](businessId)
	return product, nil
}

// DeleteProduct removes the product and its batches. Blocked when any batch
// has consumption history (cascade only applies to clean products).
func DeleteProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id, "Batches")
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[BatchConsumption](ctx, businessId, "product_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &ConflictError{Reason: "product has recorded sales"}
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("business_id = ? AND product_id = ?", businessId, id).
		Delete(&Batch{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	utils.RemoveRedisItem[Product](id)
	utils.RemoveRedisList[Product](businessId)
	return product, nil
}

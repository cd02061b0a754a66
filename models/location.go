package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Location struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LocationInventory is the per-(location, product) physical stock counter
// maintained by the stock-receiving workflow. The reconciler only reads it.
type LocationInventory struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"index;not null" json:"business_id"`
	LocationId        int             `gorm:"uniqueIndex:idx_location_product;not null" json:"location_id"`
	ProductId         int             `gorm:"uniqueIndex:idx_location_product;not null" json:"product_id"`
	Qty               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	MinStockThreshold decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_stock_threshold"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLocation struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

type NewLocationInventory struct {
	LocationId        int             `json:"location_id" binding:"required"`
	ProductId         int             `json:"product_id" binding:"required"`
	Qty               decimal.Decimal `json:"qty"`
	MinStockThreshold decimal.Decimal `json:"min_stock_threshold"`
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[Location](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	location := Location{
		BusinessId: businessId,
		Name:       input.Name,
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func GetLocation(ctx context.Context, id int) (*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Location](ctx, businessId, id)
}

func GetLocationsAll(ctx context.Context) ([]*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Location](ctx, businessId)
}

// SetLocationInventory upserts the per-location counter. This is the write
// path used by the stock-receiving workflow; sales never touch these rows.
func SetLocationInventory(ctx context.Context, input *NewLocationInventory) (*LocationInventory, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if input.Qty.IsNegative() {
		return nil, &ValidationError{Reason: "qty cannot be negative"}
	}
	if err := utils.ValidateResourceId[Location](ctx, businessId, input.LocationId); err != nil {
		return nil, errors.New("location not found")
	}
	if err := utils.ValidateResourceId[Product](ctx, businessId, input.ProductId); err != nil {
		return nil, errors.New("product not found")
	}

	db := config.GetDB()
	var row LocationInventory
	err := db.WithContext(ctx).
		Where("business_id = ? AND location_id = ? AND product_id = ?", businessId, input.LocationId, input.ProductId).
		First(&row).Error
	if err != nil {
		row = LocationInventory{
			BusinessId:        businessId,
			LocationId:        input.LocationId,
			ProductId:         input.ProductId,
			Qty:               input.Qty,
			MinStockThreshold: input.MinStockThreshold,
		}
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}

	if err := db.WithContext(ctx).Model(&row).Updates(map[string]interface{}{
		"Qty":               input.Qty,
		"MinStockThreshold": input.MinStockThreshold,
	}).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// addLocationInventoryTx bumps the per-location counter inside an intake
// transaction, creating the row on first receive at that location.
func addLocationInventoryTx(ctx context.Context, tx *gorm.DB, businessId string, locationId int, productId int, qty decimal.Decimal) error {
	var row LocationInventory
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND location_id = ? AND product_id = ?", businessId, locationId, productId).
		First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		row = LocationInventory{
			BusinessId: businessId,
			LocationId: locationId,
			ProductId:  productId,
			Qty:        qty,
		}
		return tx.WithContext(ctx).Create(&row).Error
	}
	return tx.WithContext(ctx).Model(&row).Update("Qty", row.Qty.Add(qty)).Error
}

func GetLocationInventories(ctx context.Context, productId int) ([]*LocationInventory, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var rows []*LocationInventory
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Order("location_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

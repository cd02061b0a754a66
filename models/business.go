package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"gorm.io/gorm"
)

// Business is the tenant root. Every other row carries its id.
type Business struct {
	ID                uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name              string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email             string    `gorm:"size:255" json:"email"`
	PrimaryLocationId int       `json:"primary_location_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

func (b *Business) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// CreateBusiness creates the tenant plus its primary location and the product
// code sequence row, so every business can issue codes from day one.
func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	db := config.GetDB()

	business := Business{
		Name:  input.Name,
		Email: input.Email,
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&business).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	location := Location{
		BusinessId: business.ID.String(),
		Name:       "Main Store",
		IsActive:   utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&location).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Model(&business).
		Update("primary_location_id", location.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	sequence := ProductCodeSequence{
		BusinessId: business.ID.String(),
		NextValue:  "1",
		Pattern:    "PRD-{num:04d}",
	}
	if err := tx.WithContext(ctx).Create(&sequence).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	business.PrimaryLocationId = location.ID
	return &business, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return GetBusinessById(ctx, businessId)
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	db := config.GetDB()
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &business, nil
}

package workflow

import (
	"context"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/models"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RebuildReport summarizes one master-quantity rebuild run.
type RebuildReport struct {
	BusinessId   string `json:"business_id"`
	ProductCount int    `json:"product_count"`
	FixedCount   int    `json:"fixed_count"`
}

// ProcessMasterQuantityRebuild resweeps every product of the business and
// rewrites master_quantity from batch remainders. Redis-locked so only one
// rebuild per business runs at a time.
func ProcessMasterQuantityRebuild(ctx context.Context, db *gorm.DB, logger *logrus.Logger, businessId string) (*RebuildReport, error) {
	lock, err := utils.BusinessLock(ctx, businessId, "rebuild", "rebuild.go", "ProcessMasterQuantityRebuild")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	type productRow struct {
		ID             int
		MasterQuantity decimal.Decimal
	}
	var products []productRow
	err = db.WithContext(ctx).Model(&models.Product{}).
		Select("id", "master_quantity").
		Where("business_id = ?", businessId).
		Order("id").
		Find(&products).Error
	if err != nil {
		config.LogError(logger, "rebuild.go", "ProcessMasterQuantityRebuild", "Querying products", businessId, err)
		return nil, err
	}

	report := RebuildReport{BusinessId: businessId, ProductCount: len(products)}
	for _, p := range products {
		var truth decimal.NullDecimal
		err = db.WithContext(ctx).Model(&models.Batch{}).
			Select("SUM(remaining_qty)").
			Where("business_id = ? AND product_id = ?", businessId, p.ID).
			Scan(&truth).Error
		if err != nil {
			config.LogError(logger, "rebuild.go", "ProcessMasterQuantityRebuild", "Summing batch remainders", p.ID, err)
			return nil, err
		}
		master := decimal.Zero
		if truth.Valid {
			master = truth.Decimal
		}
		if master.Equal(p.MasterQuantity) {
			continue
		}

		err = db.WithContext(ctx).Model(&models.Product{}).
			Where("business_id = ? AND id = ?", businessId, p.ID).
			Update("master_quantity", master).Error
		if err != nil {
			config.LogError(logger, "rebuild.go", "ProcessMasterQuantityRebuild", "Rewriting master quantity", p.ID, err)
			return nil, err
		}
		report.FixedCount++

		logger.WithFields(logrus.Fields{
			"field":       "Rebuild",
			"business_id": businessId,
			"product_id":  p.ID,
			"was":         p.MasterQuantity.String(),
			"now":         master.String(),
		}).Info("master quantity corrected")

		utils.RemoveRedisItem[models.Product](p.ID)
	}
	utils.RemoveRedisList[models.Product](businessId)
	return &report, nil
}

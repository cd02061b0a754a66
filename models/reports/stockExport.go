package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type BatchLedgerRow struct {
	ProductCode  string          `json:"product_code"`
	ProductName  string          `json:"product_name"`
	Sku          string          `json:"sku"`
	BatchNumber  string          `json:"batch_number"`
	PurchaseDate time.Time       `json:"purchase_date"`
	Qty          decimal.Decimal `json:"qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	ConsumedQty  decimal.Decimal `json:"consumed_qty"`
}

// GetBatchLedgerReport lists every batch of the business in consumption
// order with its drawn-down amount.
func GetBatchLedgerReport(ctx context.Context) ([]*BatchLedgerRow, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	sql := `
SELECT
    products.product_code,
    products.name AS product_name,
    products.sku,
    batches.batch_number,
    batches.purchase_date,
    batches.qty,
    batches.remaining_qty,
    batches.qty - batches.remaining_qty AS consumed_qty
FROM
    batches
    JOIN products ON products.id = batches.product_id
WHERE
    batches.business_id = ?
ORDER BY
    products.product_code, batches.purchase_date, batches.id;
`

	var records []*BatchLedgerRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, businessId).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ExportBatchLedgerExcel streams the batch ledger as an xlsx attachment.
func ExportBatchLedgerExcel(ctx context.Context, w http.ResponseWriter) error {
	data, err := GetBatchLedgerReport(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheetName := "Sheet1"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheetName, "A1", "ProductCode")
	f.SetCellValue(sheetName, "B1", "ProductName")
	f.SetCellValue(sheetName, "C1", "Sku")
	f.SetCellValue(sheetName, "D1", "BatchNumber")
	f.SetCellValue(sheetName, "E1", "PurchaseDate")
	f.SetCellValue(sheetName, "F1", "Qty")
	f.SetCellValue(sheetName, "G1", "RemainingQty")
	f.SetCellValue(sheetName, "H1", "ConsumedQty")

	// Add data
	for i, d := range data {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+row, d.ProductCode)
		f.SetCellValue(sheetName, "B"+row, d.ProductName)
		f.SetCellValue(sheetName, "C"+row, d.Sku)
		f.SetCellValue(sheetName, "D"+row, d.BatchNumber)
		f.SetCellValue(sheetName, "E"+row, d.PurchaseDate.Format("2006-01-02"))
		f.SetCellValue(sheetName, "F"+row, d.Qty.InexactFloat64())
		f.SetCellValue(sheetName, "G"+row, d.RemainingQty.InexactFloat64())
		f.SetCellValue(sheetName, "H"+row, d.ConsumedQty.InexactFloat64())
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=batch-ledger.xlsx")
	return f.Write(w)
}

package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testBatch(id int, remaining int64, sellingPrice int64, purchaseDate time.Time) *Batch {
	return &Batch{
		ID:            id,
		ProductId:     1,
		BatchNumber:   "B" + decimal.NewFromInt(int64(id)).String(),
		Qty:           decimal.NewFromInt(remaining),
		RemainingQty:  decimal.NewFromInt(remaining),
		PurchasePrice: decimal.NewFromInt(sellingPrice - 200),
		SellingPrice:  decimal.NewFromInt(sellingPrice),
		PurchaseDate:  purchaseDate,
	}
}

func TestAllocateSpansBatchesOldestFirst(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	batches := []*Batch{
		testBatch(1, 5, 1000, jan1),
		testBatch(2, 10, 1200, jan2),
	}

	portions, err := allocateAcrossBatches(1, batches, decimal.NewFromInt(7))
	if err != nil {
		t.Fatalf("allocate 7: %v", err)
	}
	if len(portions) != 2 {
		t.Fatalf("expected 2 portions, got %d", len(portions))
	}
	if portions[0].Batch.ID != 1 || !portions[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("first portion should drain batch 1 fully, got batch %d qty %s",
			portions[0].Batch.ID, portions[0].Qty)
	}
	if portions[1].Batch.ID != 2 || !portions[1].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("second portion should take 2 from batch 2, got batch %d qty %s",
			portions[1].Batch.ID, portions[1].Qty)
	}
	if !portions[0].UnitPrice.Equal(decimal.NewFromInt(1000)) || !portions[1].UnitPrice.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("unit prices must come from each batch: %s / %s",
			portions[0].UnitPrice, portions[1].UnitPrice)
	}
	if !portions[0].UnitCost.Equal(decimal.NewFromInt(800)) || !portions[1].UnitCost.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unit costs must come from each batch: %s / %s",
			portions[0].UnitCost, portions[1].UnitCost)
	}
}

func TestAllocateExactDrain(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := []*Batch{testBatch(1, 5, 1000, jan1)}

	portions, err := allocateAcrossBatches(1, batches, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("allocate 5: %v", err)
	}
	if len(portions) != 1 || !portions[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("exact drain should be one full portion, got %+v", portions)
	}
}

func TestAllocateInsufficientStockReportsRemainder(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	batches := []*Batch{
		testBatch(1, 5, 1000, jan1),
		testBatch(2, 10, 1200, jan2),
	}

	_, err := allocateAcrossBatches(1, batches, decimal.NewFromInt(20))
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !stockErr.Remainder.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected remainder 5, got %s", stockErr.Remainder)
	}
	if stockErr.ProductId != 1 {
		t.Fatalf("expected product 1, got %d", stockErr.ProductId)
	}

	// Planning never mutates the batches it read.
	if !batches[0].RemainingQty.Equal(decimal.NewFromInt(5)) || !batches[1].RemainingQty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("batches were mutated by a failed plan: %s / %s",
			batches[0].RemainingQty, batches[1].RemainingQty)
	}
}

func TestAllocateSkipsDrainedBatches(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	empty := testBatch(1, 10, 1000, jan1)
	empty.RemainingQty = decimal.Zero
	batches := []*Batch{
		empty,
		testBatch(2, 10, 1200, jan2),
	}

	portions, err := allocateAcrossBatches(1, batches, decimal.NewFromInt(3))
	if err != nil {
		t.Fatalf("allocate 3: %v", err)
	}
	if len(portions) != 1 || portions[0].Batch.ID != 2 {
		t.Fatalf("drained batch must not appear in the plan, got %+v", portions)
	}
}

func TestAllocateRejectsNonPositiveQty(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := []*Batch{testBatch(1, 5, 1000, jan1)}

	for _, qty := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-3)} {
		_, err := allocateAcrossBatches(1, batches, qty)
		var invalidErr *InvalidArgumentError
		if !errors.As(err, &invalidErr) {
			t.Fatalf("qty %s: expected InvalidArgumentError, got %v", qty, err)
		}
	}
}

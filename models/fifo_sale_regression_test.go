package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/models"
	"github.com/mmretail/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

// setupLedgerEnv starts redis and mysql containers, connects the globals,
// migrates, and returns a context carrying a fresh business and test user.
func setupLedgerEnv(t *testing.T) (context.Context, *models.Business) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stockbook_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "FIFO Mart",
		Email: fmt.Sprintf("owner-%d@fifomart.test", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())
	return ctx, biz
}

func TestFifoSaleDrainsOldestBatchesFirst(t *testing.T) {
	ctx, biz := setupLedgerEnv(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku:             "MOUSE01",
		Name:            "Mouse",
		PurchasePrice:   decimal.NewFromInt(10000),
		SellingPrice:    decimal.NewFromInt(15000),
		OpeningQuantity: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if product.ProductCode != "PRD-0001" {
		t.Fatalf("expected first product code PRD-0001, got %q", product.ProductCode)
	}

	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	b1, err := models.CreateBatch(ctx, &models.NewBatch{
		ProductId:     product.ID,
		BatchNumber:   "LOT-JAN1",
		PurchasePrice: decimal.NewFromInt(10000),
		SellingPrice:  decimal.NewFromInt(15000),
		Qty:           decimal.NewFromInt(5),
		PurchaseDate:  jan1,
	})
	if err != nil {
		t.Fatalf("CreateBatch LOT-JAN1: %v", err)
	}
	b2, err := models.CreateBatch(ctx, &models.NewBatch{
		ProductId:     product.ID,
		BatchNumber:   "LOT-JAN2",
		PurchasePrice: decimal.NewFromInt(11000),
		SellingPrice:  decimal.NewFromInt(16000),
		Qty:           decimal.NewFromInt(10),
		PurchaseDate:  jan2,
	})
	if err != nil {
		t.Fatalf("CreateBatch LOT-JAN2: %v", err)
	}

	// Refusing a sale that exceeds total stock must leave everything intact.
	_, err = models.CreateSale(ctx, &models.NewSale{
		Items: []models.NewSaleItem{{ProductId: product.ID, Qty: decimal.NewFromInt(20)}},
	})
	var stockErr *models.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !stockErr.Remainder.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected remainder 5, got %s", stockErr.Remainder)
	}
	assertBatchRemaining(t, ctx, b1.ID, 5)
	assertBatchRemaining(t, ctx, b2.ID, 10)

	// A 7-unit sale drains the Jan 1 batch and takes 2 from Jan 2.
	sale, err := models.CreateSale(ctx, &models.NewSale{
		Discount:   decimal.NewFromInt(7000),
		PaidAmount: decimal.NewFromInt(50000),
		Items:      []models.NewSaleItem{{ProductId: product.ID, Qty: decimal.NewFromInt(7)}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if len(sale.SaleLines) != 2 {
		t.Fatalf("expected 2 sale lines, got %d", len(sale.SaleLines))
	}
	if sale.SaleLines[0].BatchId != b1.ID || !sale.SaleLines[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("first line should drain LOT-JAN1: %+v", sale.SaleLines[0])
	}
	if sale.SaleLines[1].BatchId != b2.ID || !sale.SaleLines[1].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("second line should take 2 from LOT-JAN2: %+v", sale.SaleLines[1])
	}
	// 5 * 15000 + 2 * 16000
	if !sale.TotalAmount.Equal(decimal.NewFromInt(107000)) {
		t.Fatalf("expected total 107000, got %s", sale.TotalAmount)
	}
	if !sale.FinalAmount.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected final 100000 after discount, got %s", sale.FinalAmount)
	}
	if !sale.CreditAmount.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected credit 50000, got %s", sale.CreditAmount)
	}

	assertBatchRemaining(t, ctx, b1.ID, 0)
	assertBatchRemaining(t, ctx, b2.ID, 8)

	refreshed, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !refreshed.MasterQuantity.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("master quantity should be 8 after the sale, got %s", refreshed.MasterQuantity)
	}

	// Consumed batches must refuse deletion.
	if _, err := models.DeleteBatch(ctx, b1.ID); err == nil {
		t.Fatalf("expected ConflictError deleting a consumed batch")
	} else {
		var conflictErr *models.ConflictError
		if !errors.As(err, &conflictErr) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
	}

	// The reconciler sees the full drift because nothing was receipted into
	// location counters.
	result, err := models.Reconcile(ctx, product.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.HasMismatch || !result.Diff.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected mismatch diff 8, got %+v", result)
	}

	// The sale must be journaled for the activity feed.
	var outboxCount int64
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&models.ActivityOutboxRecord{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?",
			biz.ID.String(), models.ActivityReferenceTypeSale, sale.ID).
		Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected 1 outbox row for the sale, got %d", outboxCount)
	}

	// Correcting a partly consumed batch keeps the 2 units already sold:
	// qty 10 -> 6 leaves remaining 6 - 2 = 4.
	updated, err := models.UpdateBatch(ctx, b2.ID, &models.UpdateBatchInput{
		PurchasePrice: decimal.NewFromInt(11000),
		SellingPrice:  decimal.NewFromInt(16000),
		Qty:           decimal.NewFromInt(6),
		PurchaseDate:  jan2,
	})
	if err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	if !updated.RemainingQty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected remaining 4 after qty correction, got %s", updated.RemainingQty)
	}

	// A correction below the consumed amount must be refused.
	_, err = models.UpdateBatch(ctx, b2.ID, &models.UpdateBatchInput{
		PurchasePrice: decimal.NewFromInt(11000),
		SellingPrice:  decimal.NewFromInt(16000),
		Qty:           decimal.NewFromInt(1),
		PurchaseDate:  jan2,
	})
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for qty below consumed, got %v", err)
	}

	// Recomputing twice with no intervening writes must agree.
	m1, err := models.RecomputeMasterQuantity(ctx, product.ID)
	if err != nil {
		t.Fatalf("RecomputeMasterQuantity: %v", err)
	}
	m2, err := models.RecomputeMasterQuantity(ctx, product.ID)
	if err != nil {
		t.Fatalf("RecomputeMasterQuantity (second): %v", err)
	}
	if !m1.Equal(m2) || !m1.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("recompute should be stable at 4, got %s then %s", m1, m2)
	}
}

func assertBatchRemaining(t *testing.T, ctx context.Context, batchId int, want int64) {
	t.Helper()
	batch, err := models.GetBatch(ctx, batchId)
	if err != nil {
		t.Fatalf("GetBatch %d: %v", batchId, err)
	}
	if !batch.RemainingQty.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("batch %d remaining = %s, want %d", batchId, batch.RemainingQty, want)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbook-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbook-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stockbook_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}

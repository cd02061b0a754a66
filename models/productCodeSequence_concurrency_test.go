package models_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/mmretail/stockbook_backend/models"
)

// Concurrent callers must each get their own code: the row lock serializes
// the read-compute-write, so N calls hand out N distinct values.
func TestNextProductCodeConcurrentCallersGetDistinctCodes(t *testing.T) {
	ctx, _ := setupLedgerEnv(t)

	const callers = 8

	codes := make(chan string, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := models.NextProductCode(ctx)
			if err != nil {
				errs <- err
				return
			}
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)
	close(errs)

	for err := range errs {
		t.Fatalf("NextProductCode: %v", err)
	}

	seen := map[string]bool{}
	for code := range codes {
		if seen[code] {
			t.Fatalf("code %q handed out twice", code)
		}
		seen[code] = true
	}
	if len(seen) != callers {
		t.Fatalf("expected %d distinct codes, got %d", callers, len(seen))
	}
	// The fresh counter starts at 1, so the calls cover 1..callers in some
	// interleaving.
	for n := 1; n <= callers; n++ {
		want := fmt.Sprintf("PRD-%04d", n)
		if !seen[want] {
			t.Fatalf("expected %s among the issued codes, got %v", want, seen)
		}
	}

	// The counter keeps advancing past the burst.
	next, err := models.NextProductCode(ctx)
	if err != nil {
		t.Fatalf("NextProductCode after burst: %v", err)
	}
	if want := fmt.Sprintf("PRD-%04d", callers+1); next != want {
		t.Fatalf("expected %s after the burst, got %s", want, next)
	}
}

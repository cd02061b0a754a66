package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/models"
	"github.com/mmretail/stockbook_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	businessID := flag.String("business-id", "", "Required unless --all: business id (uuid)")
	allBusinesses := flag.Bool("all", false, "Rebuild every business")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing businesses and continue")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" && !*allBusinesses {
		fmt.Fprintln(os.Stderr, "--business-id or --all is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()
	ctx := context.Background()

	var businessIds []string
	if *allBusinesses {
		if err := db.WithContext(ctx).Model(&models.Business{}).
			Order("id").Pluck("id", &businessIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to list businesses: %v\n", err)
			os.Exit(1)
		}
	} else {
		businessIds = []string{strings.TrimSpace(*businessID)}
	}

	exitCode := 0
	for _, id := range businessIds {
		report, err := workflow.ProcessMasterQuantityRebuild(ctx, db, logger, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rebuild failed for %s: %v\n", id, err)
			if !*continueOnError {
				os.Exit(1)
			}
			exitCode = 1
			continue
		}
		fmt.Printf("business %s: %d products checked, %d corrected\n",
			report.BusinessId, report.ProductCount, report.FixedCount)
	}
	os.Exit(exitCode)
}

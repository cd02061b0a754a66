package models

import (
	"log"

	"github.com/mmretail/stockbook_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &Location{}, &LocationInventory{},
		&Product{}, &ProductCodeSequence{}, &Batch{},
		&Sale{}, &SaleLine{}, &BatchConsumption{},
		&Customer{}, &User{},
		&History{}, &ActivityOutboxRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

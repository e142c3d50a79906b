package database

import (
	"context"
	"log"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var Container *sqlstore.Container

// InitWhatsmeow opens the whatsmeow device/credential store.
// postgres:// URLs use lib/pq, everything else is treated as a sqlite file URI.
func InitWhatsmeow(dbURL string) {
	dbLog := waLog.Stdout("Database", "INFO", true)

	driver := "sqlite3"
	if strings.HasPrefix(dbURL, "postgres:") || strings.HasPrefix(dbURL, "postgresql:") {
		driver = "postgres"
	}

	container, err := sqlstore.New(context.Background(), driver, dbURL, dbLog)
	if err != nil {
		log.Fatalf("Failed to init whatsmeow store (%s): %v", driver, err)
	}

	Container = container
	log.Printf("Whatsmeow store (%s) connected successfully", driver)
}

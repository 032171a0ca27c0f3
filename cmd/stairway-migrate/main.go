package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cuemby/stairway/pkg/journal"
)

var (
	driverName = flag.String("driver", "sqlite", "database/sql driver: sqlite or pgx")
	dataSource = flag.String("data-source", "stairway.db", "Driver-specific DSN (a file path for sqlite)")
	dryRun     = flag.Bool("dry-run", false, "Report what would happen without applying the schema")
	backupPath = flag.String("backup", "", "Path to back up a sqlite file before migrating (default: <data-source>.backup); ignored for pgx")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Stairway Schema Migration Tool")
	log.Println("==============================")
	log.Printf("Driver: %s", *driverName)
	log.Printf("Data source: %s", *dataSource)
	log.Printf("Dry run: %v", *dryRun)

	if *driverName == "sqlite" {
		if _, err := os.Stat(*dataSource); os.IsNotExist(err) {
			log.Printf("No existing database at %s; migration will create it", *dataSource)
		} else if !*dryRun {
			backupFile := *backupPath
			if backupFile == "" {
				backupFile = *dataSource + ".backup"
			}
			log.Printf("Creating backup: %s", backupFile)
			if err := copyFile(*dataSource, backupFile); err != nil {
				log.Fatalf("failed to create backup: %v", err)
			}
			log.Println("✓ backup created")
		}
	}

	if *dryRun {
		log.Println("\n[DRY RUN] Would apply pkg/journal/migrations/*.sql to the database above.")
		log.Println("Run without --dry-run to perform the migration.")
		return
	}

	if err := journal.Migrate(*driverName, *dataSource); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("\n✓ migration completed successfully")
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return os.WriteFile(dst, input, 0600)
}

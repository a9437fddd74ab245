package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/noah-isme/solpay-gateway/internal/order"
)

// migrate applies the embedded order migrations to the configured database.
func main() {
	_ = godotenv.Load()

	var (
		driver      = flag.String("driver", envOrDefault("DATABASE_DRIVER", order.DriverPostgres), "database driver: postgres or sqlite")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
		sqlitePath  = flag.String("sqlite-path", envOrDefault("SQLITE_PATH", "solpay.db"), "sqlite database file")
	)
	flag.Parse()

	if strings.EqualFold(*driver, order.DriverPostgres) && strings.TrimSpace(*databaseURL) == "" {
		fmt.Fprintln(os.Stderr, "migrate: DATABASE_URL is required for postgres")
		os.Exit(2)
	}

	db, err := order.OpenMigrationDB(*driver, *databaseURL, *sqlitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := order.Migrate(db, strings.ToLower(*driver)); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("migrate: %s schema up to date\n", strings.ToLower(*driver))
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/payment"
)

// seeder creates demo orders and moves them to pending-payment so a local
// checkout can be walked end to end.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	var (
		driver  = flag.String("driver", envOrDefault("DATABASE_DRIVER", order.DriverPostgres), "database driver: postgres or sqlite")
		count   = flag.Int("count", 3, "number of orders to create")
		total   = flag.String("total", "10.00", "order total in USDC")
		email   = flag.String("email", "buyer@example.com", "customer email")
		baseURL = flag.String("base-url", envOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "public base URL used to print links")
	)
	flag.Parse()

	amount, err := decimal.NewFromString(*total)
	if err != nil || !amount.IsPositive() {
		log.Fatalf("invalid -total %q", *total)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := order.OpenBackend(ctx, order.BackendConfig{
		Driver:          *driver,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      envOrDefault("SQLITE_PATH", "solpay.db"),
		ApplicationName: "solpay-seeder",
		Migrate:         true,
	})
	if err != nil {
		log.Fatalf("open order database: %v", err)
	}
	defer backend.Close()

	links := payment.Links{BaseURL: *baseURL}
	fmt.Println("Seeding orders...")
	for i := 0; i < *count; i++ {
		o, err := backend.Store.Create(ctx, order.NewOrder{Total: amount, CustomerEmail: *email})
		if err != nil {
			log.Fatalf("create order: %v", err)
		}
		if o, _, err = backend.Store.MarkPendingPayment(ctx, o.ID); err != nil {
			log.Fatalf("mark pending payment: %v", err)
		}
		fmt.Printf("  %s  %s %s  config: %s/api/v1/orders/%s/payment-config  received: %s\n",
			o.Number, o.Total.StringFixed(2), o.Currency, strings.TrimRight(*baseURL, "/"), o.ID, links.OrderReceived(o))
	}
	log.Println("Seeding completed successfully!")
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

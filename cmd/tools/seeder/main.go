package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
	"github.com/noah-isme/concordpay-gateway/internal/db"
	"github.com/noah-isme/concordpay-gateway/internal/order"
)

// seeder registers a demo order so the pay page can be exercised locally.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	id := flag.String("id", "42", "order id")
	total := flag.String("total", "100.00", "order total")
	currency := flag.String("currency", "UAH", "order currency")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	amount, err := decimal.NewFromString(*total)
	if err != nil {
		log.Fatalf("Invalid total %q: %v", *total, err)
	}
	half := amount.Div(decimal.NewFromInt(2)).Round(2)

	demo := concordpay.Order{
		ID:       *id,
		Total:    amount,
		Currency: *currency,
		Billing: concordpay.Billing{
			FirstName: "Іван",
			LastName:  "Петренко",
			Address1:  "вул. Хрещатик, 1",
			City:      "Київ",
			Phone:     "(067) 123 45 67",
			Email:     "ivan@example.com",
			Country:   "UA",
			Postcode:  "01001",
		},
		Items: []concordpay.Item{
			{Name: "Чашка", Qty: 1, LineTotal: half},
			{Name: "Чай", Qty: 2, LineTotal: amount.Sub(half)},
		},
		CartSession: "demo-session",
	}

	store := order.NewStore(pool)
	if err := store.Create(ctx, demo); err != nil {
		if errors.Is(err, order.ErrExists) {
			log.Printf("Order %s already exists", demo.ID)
			return
		}
		log.Fatalf("Failed to create order: %v", err)
	}
	log.Printf("Seeded order %s (%s %s)", demo.ID, amount.StringFixed(2), demo.Currency)
}

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/concordpay-gateway/internal/auth"
)

// hosttoken mints a bearer token for the host API.
// Exit code 0 = ok, 2 = error.
func main() {
	_ = godotenv.Load()

	subject := flag.String("subject", "host-shop", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	svc, err := auth.NewService(auth.Config{
		Secret:   os.Getenv("HOST_API_JWT_SECRET"),
		Issuer:   os.Getenv("HOST_API_JWT_ISSUER"),
		Audience: os.Getenv("HOST_API_JWT_AUDIENCE"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "hosttoken error: %v\n", err)
		os.Exit(2)
	}
	token, expires, err := svc.IssueToken(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hosttoken error: %v\n", err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	fmt.Println(token)
}

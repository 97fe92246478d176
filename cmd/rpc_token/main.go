// Command rpc_token mints a service token for the internal /agent routes.
//
//	INTERNAL_RPC_SECRET=... go run ./cmd/rpc_token -service summarizer -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"parley/pkg/auth"

	"github.com/joho/godotenv"
)

func main() {
	service := flag.String("service", "operator", "calling service name embedded in the token")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	secret := os.Getenv("INTERNAL_RPC_SECRET")
	if secret == "" {
		log.Fatal("❌ INTERNAL_RPC_SECRET is not set")
	}

	tokenAuth, err := auth.NewServiceTokenAuth(secret, *ttl)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	token, err := tokenAuth.IssueToken(*service)
	if err != nil {
		log.Fatalf("❌ Failed to issue token: %v", err)
	}

	fmt.Println(token)
}

// Command keygen mints access keys offline. Without -db it prints a fresh
// key string; with -db it also stores the key in a sqlite database so it is
// usable immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/metergate/metergate/internal/apikey"
	"github.com/metergate/metergate/internal/storage/sqlite"
)

func main() {
	dbPath := flag.String("db", "", "sqlite database to store the key in (optional)")
	userID := flag.String("user", "", "owning user ID (required with -db)")
	days := flag.Int("days", apikey.DefaultValidityDays, "validity in days (1-30)")
	maxUsage := flag.Int("max-usage", 0, "usage quota, 0 for unlimited")
	flag.Parse()

	if *dbPath == "" {
		key, err := apikey.GenerateKey()
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		fmt.Println(key)
		return
	}

	if *userID == "" {
		log.Fatal("-user is required with -db")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	var quota *int
	if *maxUsage > 0 {
		quota = maxUsage
	}

	key, err := apikey.NewRegistry(store).Create(context.Background(), *userID, *days, quota)
	if err != nil {
		log.Fatalf("Failed to create key: %v", err)
	}

	fmt.Printf("Key:        %s\n", key.Key)
	fmt.Printf("Expires at: %s\n", key.ExpiresAt)
	if key.MaxUsage != nil {
		fmt.Printf("Max usage:  %d\n", *key.MaxUsage)
	}
}

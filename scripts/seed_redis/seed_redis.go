package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "poller:auth:"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	keys := triggerKeys()
	seedKeys(ctx, client, keys)
	verify(ctx, client, len(keys))

	fmt.Println("\n✅ Trigger keys seeded")
	fmt.Println("   Try: curl -X POST -H 'X-API-Key: <key>' localhost:8001/invoke")
}

// triggerKeys reads SEED_API_KEYS as key=owner pairs, falling back to a
// local development key.
func triggerKeys() map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(os.Getenv("SEED_API_KEYS"), ",") {
		k, owner, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = owner
	}
	if len(out) == 0 {
		out["local_dev_trigger_key"] = "local-dev"
	}
	return out
}

func seedKeys(ctx context.Context, client *redis.Client, keys map[string]string) {
	fmt.Println("\n── Seeding trigger API keys ────────────────────")

	// No TTL: keys stay until removed by hand.
	for k, owner := range keys {
		if err := client.Set(ctx, keyPrefix+k, owner, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", k, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", keyPrefix+k, owner)
	}
}

func verify(ctx context.Context, client *redis.Client, want int) {
	fmt.Println("\n── Verification ────────────────────────────────")

	var found int
	iter := client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		found++
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	if found < want {
		log.Fatalf("Expected at least %d keys, found %d", want, found)
	}
	fmt.Printf("  ✓ %d trigger keys found in Redis\n", found)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

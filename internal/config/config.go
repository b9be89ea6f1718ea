// Package config reads the back office settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	CartStoreMemory = "memory"
	CartStoreSQL    = "sql"
	CartStoreMongo  = "mongo"
)

type Config struct {
	HTTPPort        string
	Env             string
	LogLevel        string
	LogFile         string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	StoreDriver string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	SQLitePath  string

	CartStore     string
	MongoURI      string
	MongoDBName   string
	RedisAddr     string
	RedisPassword string
	CartCacheTTL  time.Duration

	KafkaBrokers       []string
	KafkaTopic         string
	KafkaDeliveryTopic string // empty disables the delivery consumer
	KafkaGroupID       string

	CheckoutTimeout       time.Duration
	LedgerMaxQuantity     int64
	BulkRestockWorkers    int
	BulkRestockMaxItems   int
	ReorderDigestSchedule string
	Currency              string
}

// Load reads .env (if any) and the process environment. Variables already set
// in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		StoreDriver: getEnv("STORE_DRIVER", StoreMemory),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "backoffice"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		SQLitePath:  getEnv("SQLITE_PATH", "backoffice.db"),

		CartStore:     getEnv("CART_STORE", CartStoreMemory),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "backoffice"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "backoffice-outbox"),
		KafkaDeliveryTopic: getEnv("KAFKA_DELIVERY_TOPIC", ""),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "backoffice"),

		ReorderDigestSchedule: getEnv("REORDER_DIGEST_SCHEDULE", "@every 1h"),
		Currency:              strings.ToUpper(getEnv("CURRENCY", "USD")),
	}

	var err error
	if cfg.DBPort, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CartCacheTTL, err = getDuration("CART_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CheckoutTimeout, err = getDuration("CHECKOUT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	maxQty, err := getInt("LEDGER_MAX_QUANTITY", 1_000_000_000)
	if err != nil {
		return nil, err
	}
	cfg.LedgerMaxQuantity = int64(maxQty)
	if cfg.BulkRestockWorkers, err = getInt("BULK_RESTOCK_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.BulkRestockMaxItems, err = getInt("BULK_RESTOCK_MAX_ITEMS", 500); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	switch c.CartStore {
	case CartStoreMemory, CartStoreMongo:
	case CartStoreSQL:
		if c.StoreDriver == StoreMemory {
			return fmt.Errorf("CART_STORE=sql needs STORE_DRIVER postgres or sqlite")
		}
	default:
		return fmt.Errorf("CART_STORE: unknown store %q", c.CartStore)
	}
	if c.LedgerMaxQuantity <= 0 {
		return fmt.Errorf("LEDGER_MAX_QUANTITY must be positive")
	}
	if c.BulkRestockWorkers <= 0 || c.BulkRestockMaxItems <= 0 {
		return fmt.Errorf("BULK_RESTOCK_WORKERS and BULK_RESTOCK_MAX_ITEMS must be positive")
	}
	if c.CheckoutTimeout <= 0 {
		return fmt.Errorf("CHECKOUT_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

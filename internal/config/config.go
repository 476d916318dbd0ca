package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/observalabs/mirador/internal/apperr"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Invoke(func(cfg Config) error { return cfg.Validate() }),
)

// Config holds application configuration. All values come from the
// environment; a .env file is autoloaded in development.
type Config struct {
	AppName     string
	Environment string
	Port        string

	DatabaseURL string
	RedisURL    string

	BlobDriver        string // local | s3
	BlobRoot          string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	ShopifyAPIKey    string
	ShopifyAPISecret string
	ShopifyScopes    []string

	AppBaseURL string
	CronSecret string

	ScheduleFile   string
	OAuthSoftMatch bool
	SyncCooldown   time.Duration
}

func Load() Config {
	return Config{
		AppName:     getenv("APP_SERVICE", "mirador"),
		Environment: getenv("ENVIRONMENT", "development"),
		Port:        getenv("PORT", "8080"),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),

		BlobDriver:        getenv("BLOB_DRIVER", "local"),
		BlobRoot:          getenv("BLOB_ROOT", "./storage/raw"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Region:          getenv("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),

		ShopifyAPIKey:    strings.TrimSpace(os.Getenv("SHOPIFY_API_KEY")),
		ShopifyAPISecret: strings.TrimSpace(os.Getenv("SHOPIFY_API_SECRET")),
		ShopifyScopes:    splitCSV(getenv("SHOPIFY_SCOPES", "read_products,read_orders,read_inventory")),

		AppBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("APP_BASE_URL")), "/"),
		CronSecret: strings.TrimSpace(os.Getenv("CRON_SECRET")),

		ScheduleFile:   getenv("SCHEDULE_FILE", "schedules.yml"),
		OAuthSoftMatch: getenvBool("OAUTH_SOFT_MATCH", false),
		SyncCooldown:   getenvDuration("SYNC_COOLDOWN", 5*time.Minute),
	}
}

// Validate is fatal at startup: absence of any required name refuses
// to boot the app.
func (c Config) Validate() error {
	required := map[string]string{
		"DATABASE_URL":       c.DatabaseURL,
		"REDIS_URL":          c.RedisURL,
		"BLOB_ROOT":          c.BlobRoot,
		"SHOPIFY_API_KEY":    c.ShopifyAPIKey,
		"SHOPIFY_API_SECRET": c.ShopifyAPISecret,
		"APP_BASE_URL":       c.AppBaseURL,
		"CRON_SECRET":        c.CronSecret,
	}
	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(c.ShopifyScopes) == 0 {
		missing = append(missing, "SHOPIFY_SCOPES")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindConfig,
			fmt.Sprintf("missing required environment: %s", strings.Join(missing, ", ")))
	}
	if c.BlobDriver == "s3" && c.S3Bucket == "" {
		return apperr.New(apperr.KindConfig, "BLOB_DRIVER=s3 requires S3_BUCKET")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

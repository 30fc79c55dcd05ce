package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string

	// VaultStore selects the vault backend: dynamo, postgres or memory.
	VaultStore   string
	DynamoTables DynamoTables
	DatabaseURL  string

	S3Enabled      bool
	S3BucketPrefix string

	MasterShareEncryptionKey string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	SNSRegion   string
	SNSTopicARN string

	DeadmanInterval     time.Duration
	NomineeRateLimit    float64
	NomineeRateBurst    int
	// TrustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the
	// connection address. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders   bool
	AllowedOrigins      []string // CORS allowed origins
	PublicBaseURL       string
	ShutdownGracePeriod time.Duration
}

// DynamoTables holds the DynamoDB table name for each entity. Owners maps
// owner_id to vault_id and enforces one vault per owner.
type DynamoTables struct {
	Vaults string
	Owners string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),

		VaultStore: strings.ToLower(getEnv("VAULT_STORE", "dynamo")),
		DynamoTables: DynamoTables{
			Vaults: getEnv("DYNAMO_TABLE_VAULTS", "vaults"),
			Owners: getEnv("DYNAMO_TABLE_VAULT_OWNERS", "vault_owners"),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),

		S3Enabled:      getEnvBool("S3_ENABLED", true),
		S3BucketPrefix: getEnv("S3_BUCKET_PREFIX", "deadlock-user"),

		MasterShareEncryptionKey: getEnv("MASTER_SHARE_ENCRYPTION_KEY", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),

		DeadmanInterval:     getEnvDuration("DEADMAN_MONITOR_INTERVAL", time.Minute),
		NomineeRateLimit:    getEnvFloat("NOMINEE_RATE_LIMIT_RPS", 1),
		NomineeRateBurst:    getEnvInt("NOMINEE_RATE_LIMIT_BURST", 5),
		TrustProxyHeaders:   getEnvBool("TRUST_PROXY_HEADERS", false),
		AllowedOrigins:      strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5173"), "/"),
		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

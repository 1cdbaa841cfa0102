package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env           string
	LogLevel      string
	Port          string
	AllowedOrigin string

	DatabaseURL   string
	DBAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	KafkaBrokers []string
	KafkaTopic   string

	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string

	DefaultOutletID string
	DefaultTaxRate  decimal.Decimal

	Payment PaymentConfig
}

type PaymentConfig struct {
	Provider           string
	HTTPTimeoutSeconds int

	MidtransServerKey  string
	MidtransBaseURL    string
	MidtransProduction bool

	XenditSecretKey     string
	XenditBaseURL       string
	XenditCallbackToken string
	XenditWebhookSecret string
}

// Load reads the environment, optionally overlaid by a .env file in the
// working directory. Secrets never receive defaults.
func Load() Config {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	tokenTTL := getInt(v, "ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	httpTimeout := getInt(v, "PAYMENT_HTTP_TIMEOUT_SECONDS", 15)
	if httpTimeout < 1 {
		httpTimeout = 15
	}
	taxRate, err := decimal.NewFromString(getString(v, "DEFAULT_TAX_RATE", "0.11"))
	if err != nil || taxRate.IsNegative() {
		taxRate = decimal.RequireFromString("0.11")
	}

	return Config{
		Env:           getString(v, "APP_ENV", "development"),
		LogLevel:      getString(v, "LOG_LEVEL", "info"),
		Port:          getString(v, "PORT", "8080"),
		AllowedOrigin: getString(v, "ALLOWED_ORIGIN", "http://127.0.0.1:3000"),

		DatabaseURL:   getString(v, "DATABASE_URL", ""),
		DBAutoMigrate: getBool(v, "DB_AUTO_MIGRATE", false),

		RedisAddr:     getString(v, "REDIS_ADDR", ""),
		RedisPassword: getString(v, "REDIS_PASSWORD", ""),
		RedisDB:       getInt(v, "REDIS_DB", 0),
		RedisChannel:  getString(v, "REDIS_EVENTS_CHANNEL", "kasirledger.events"),

		KafkaBrokers: splitList(getString(v, "KAFKA_BROKERS", "")),
		KafkaTopic:   getString(v, "KAFKA_TOPIC", "kasirledger.transactions"),

		AuthSecret:            strings.TrimSpace(getString(v, "AUTH_SECRET", "")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(getString(v, "MANAGER_PIN", "")),

		DefaultOutletID: getString(v, "DEFAULT_OUTLET_ID", "main-outlet"),
		DefaultTaxRate:  taxRate,

		Payment: PaymentConfig{
			Provider:           strings.ToLower(getString(v, "PAYMENT_PROVIDER", "noop")),
			HTTPTimeoutSeconds: httpTimeout,

			MidtransServerKey:  strings.TrimSpace(getString(v, "MIDTRANS_SERVER_KEY", "")),
			MidtransBaseURL:    getString(v, "MIDTRANS_BASE_URL", ""),
			MidtransProduction: getBool(v, "MIDTRANS_PRODUCTION", false),

			XenditSecretKey:     strings.TrimSpace(getString(v, "XENDIT_SECRET_KEY", "")),
			XenditBaseURL:       getString(v, "XENDIT_BASE_URL", ""),
			XenditCallbackToken: strings.TrimSpace(getString(v, "XENDIT_CALLBACK_TOKEN", "")),
			XenditWebhookSecret: strings.TrimSpace(getString(v, "XENDIT_WEBHOOK_SECRET", "")),
		},
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return def
	}
	return n
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if !v.IsSet(key) {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return def
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

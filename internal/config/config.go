// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env         string // APP_ENV (dev, test, prod)
	Port        string // APP_PORT
	LogLevel    string // LOG_LEVEL
	StoreDriver string // STORE_DRIVER: mysql or memory

	DBUser string // DB_USER
	DBPass string // DB_PASS (optional)
	DBHost string // DB_HOST
	DBPort string // DB_PORT
	DBName string // DB_NAME

	// JWTSecret verifies bearer tokens issued by the identity provider.
	JWTSecret string

	RabbitMQURL     string // RABBITMQ_URL; empty disables events
	NotificationLog string // NOTIFICATION_LOG
	RunNotifier     bool   // RUN_NOTIFIER: consume events in-process

	StripeSecretKey    string        // STRIPE_SECRET_KEY; may be empty only when SimulatedPayments
	PaymentTimeout     time.Duration // PAYMENT_TIMEOUT
	RefundTimeout      time.Duration // REFUND_TIMEOUT
	CheckoutSuccessURL string        // CHECKOUT_SUCCESS_URL
	CheckoutCancelURL  string        // CHECKOUT_CANCEL_URL
	Currency           string        // CURRENCY

	ConfirmCancel []string // CONFIRM_KEYWORDS_CANCEL, comma separated
	ConfirmRefund []string // CONFIRM_KEYWORDS_REFUND, comma separated
}

// Load reads .env when present and then the environment.  Required
// variables depend on the store driver: the MySQL connection settings are
// only needed with STORE_DRIVER=mysql.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:                getenv("APP_ENV", "dev"),
		Port:               getenv("APP_PORT", "8080"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		StoreDriver:        strings.ToLower(getenv("STORE_DRIVER", DriverMySQL)),
		DBUser:             os.Getenv("DB_USER"),
		DBPass:             os.Getenv("DB_PASS"),
		DBHost:             getenv("DB_HOST", "127.0.0.1"),
		DBPort:             getenv("DB_PORT", "3306"),
		DBName:             os.Getenv("DB_NAME"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		NotificationLog:    getenv("NOTIFICATION_LOG", "logs/notifications.log"),
		RunNotifier:        envBool("RUN_NOTIFIER", false),
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		PaymentTimeout:     envDur("PAYMENT_TIMEOUT", 10*time.Second),
		RefundTimeout:      envDur("REFUND_TIMEOUT", 30*time.Second),
		CheckoutSuccessURL: getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		CheckoutCancelURL:  getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		Currency:           strings.ToUpper(getenv("CURRENCY", "EUR")),
		ConfirmCancel:      envList("CONFIRM_KEYWORDS_CANCEL", "CANCEL,ANNULER"),
		ConfirmRefund:      envList("CONFIRM_KEYWORDS_REFUND", "REFUND,REMBOURSER"),
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	switch cfg.StoreDriver {
	case DriverMySQL:
		if cfg.DBUser == "" {
			missing = append(missing, "DB_USER")
		}
		if cfg.DBName == "" {
			missing = append(missing, "DB_NAME")
		}
	case DriverMemory:
	default:
		return cfg, fmt.Errorf("config: unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("config: missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.StripeSecretKey == "" && !cfg.SimulatedPayments() {
		return cfg, fmt.Errorf("config: STRIPE_SECRET_KEY is required when APP_ENV=%s", cfg.Env)
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 10 * time.Second
	}
	if cfg.RefundTimeout < cfg.PaymentTimeout {
		cfg.RefundTimeout = 3 * cfg.PaymentTimeout
	}
	return cfg, nil
}

// SimulatedPayments reports whether card refunds may run against the
// in-process gateway: only outside production or with the memory store.
func (c Config) SimulatedPayments() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "test", "local":
		return true
	}
	return c.StoreDriver == DriverMemory
}

// DSN returns the MySQL data source name.  parseTime maps DATETIME columns
// to time.Time and loc=UTC keeps them consistent.
func (c Config) DSN() string {
	auth := c.DBUser
	if c.DBPass != "" {
		auth = fmt.Sprintf("%s:%s", c.DBUser, c.DBPass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC", auth, c.DBHost, c.DBPort, c.DBName)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key, def string) []string {
	var out []string
	for _, p := range strings.Split(getenv(key, def), ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DatabaseURL string
	RedisAddr   string
	HTTPAddr    string

	GatewayBaseURL         string
	GatewayTimeout         time.Duration
	GatewayPollMaxAttempts int
	GatewayPollInterval    time.Duration
	GatewayVerifyMaxAge    time.Duration

	JournalPath string

	// Domain tunables. Defaults are the values the network launched with;
	// production overrides them per deployment.
	RequestTTL      time.Duration
	CommissionRate  float64
	CommissionFloor float64
	AmountMin       float64
	AmountMax       float64
	SearchRadiusKm  float64
	DriftTolerance  float64

	SweepInterval     time.Duration
	ReconcileInterval time.Duration

	PhoneCountryCode string
	PhoneTrunkPrefix string

	RateLimitRPS   int
	RateLimitBurst int
	MaxBodyBytes   int64
	IPAllowlist    []string

	// TLS is optional; deployments behind a terminating proxy leave it
	// unset.
	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string
}

// Load reads configuration from environment variables. Unset tunables fall
// back to defaults; malformed values are collected and reported together.
func Load() (*Config, error) {
	var malformed []string

	cfg := &Config{
		Environment: os.Getenv("APP_ENV"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getenv("REDIS_ADDR", "127.0.0.1:6379"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		GatewayBaseURL:         os.Getenv("GATEWAY_BASE_URL"),
		GatewayTimeout:         getenvDuration("GATEWAY_TIMEOUT", 10*time.Second, &malformed),
		GatewayPollMaxAttempts: getenvInt("GATEWAY_POLL_MAX_ATTEMPTS", 10, &malformed),
		GatewayPollInterval:    getenvDuration("GATEWAY_POLL_INTERVAL", 3*time.Second, &malformed),
		GatewayVerifyMaxAge:    getenvDuration("GATEWAY_VERIFY_MAX_AGE", 10*time.Minute, &malformed),

		JournalPath: getenv("JOURNAL_PATH", "agentcash-journal.db"),

		RequestTTL:      getenvDuration("REQUEST_TTL", 30*time.Minute, &malformed),
		CommissionRate:  getenvFloat("COMMISSION_RATE", 0.02, &malformed),
		CommissionFloor: getenvFloat("COMMISSION_FLOOR", 10, &malformed),
		AmountMin:       getenvFloat("AMOUNT_MIN", 10, &malformed),
		AmountMax:       getenvFloat("AMOUNT_MAX", 100000, &malformed),
		SearchRadiusKm:  getenvFloat("SEARCH_RADIUS_KM", 20, &malformed),
		DriftTolerance:  getenvFloat("DRIFT_TOLERANCE", 0.01, &malformed),

		SweepInterval:     getenvDuration("SWEEP_INTERVAL", time.Minute, &malformed),
		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", 5*time.Minute, &malformed),

		PhoneCountryCode: getenv("PHONE_COUNTRY_CODE", "233"),
		PhoneTrunkPrefix: getenv("PHONE_TRUNK_PREFIX", "0"),

		RateLimitRPS:   getenvInt("RATE_LIMIT_RPS", 20, &malformed),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 40, &malformed),
		MaxBodyBytes:   int64(getenvInt("MAX_BODY_BYTES", 1<<20, &malformed)),
		IPAllowlist:    splitList(os.Getenv("IP_ALLOWLIST")),

		TLSCertFile:     os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:      os.Getenv("TLS_KEY_FILE"),
		TLSClientCAFile: os.Getenv("TLS_CLIENT_CA_FILE"),
	}

	if len(malformed) > 0 {
		return nil, errors.New("malformed environment variables: " + strings.Join(malformed, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	// Development runs against a local gateway stub; anything beyond that
	// must point at a real gateway explicitly.
	if c.Environment == "production" || c.Environment == "staging" {
		if c.GatewayBaseURL == "" {
			missing = append(missing, "GATEWAY_BASE_URL")
		}
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	switch {
	case c.CommissionRate < 0 || c.CommissionRate >= 1:
		return errors.New("COMMISSION_RATE must be in [0, 1)")
	case c.CommissionFloor < 0:
		return errors.New("COMMISSION_FLOOR must not be negative")
	case c.AmountMin <= 0:
		return errors.New("AMOUNT_MIN must be positive")
	case c.AmountMax <= c.AmountMin:
		return errors.New("AMOUNT_MAX must exceed AMOUNT_MIN")
	case c.RequestTTL <= 0:
		return errors.New("REQUEST_TTL must be positive")
	case c.SearchRadiusKm <= 0:
		return errors.New("SEARCH_RADIUS_KM must be positive")
	case c.DriftTolerance < 0:
		return errors.New("DRIFT_TOLERANCE must not be negative")
	case c.GatewayPollMaxAttempts < 1:
		return errors.New("GATEWAY_POLL_MAX_ATTEMPTS must be at least 1")
	case c.GatewayPollInterval <= 0:
		return errors.New("GATEWAY_POLL_INTERVAL must be positive")
	case c.GatewayVerifyMaxAge <= 0:
		return errors.New("GATEWAY_VERIFY_MAX_AGE must be positive")
	case c.RateLimitRPS < 1 || c.RateLimitBurst < c.RateLimitRPS:
		return errors.New("RATE_LIMIT_BURST must be at least RATE_LIMIT_RPS")
	case c.MaxBodyBytes < 1024:
		return errors.New("MAX_BODY_BYTES must be at least 1024")
	case (c.TLSCertFile == "") != (c.TLSKeyFile == ""):
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int, malformed *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*malformed = append(*malformed, key)
		return def
	}
	return i
}

func getenvFloat(key string, def float64, malformed *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*malformed = append(*malformed, key)
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration, malformed *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*malformed = append(*malformed, key)
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

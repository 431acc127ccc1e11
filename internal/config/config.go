// Package config loads service settings from the environment and the
// partner config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/selfie-capture/internal/capture"
)

// Partner holds the verification service credentials and endpoints.
type Partner struct {
	PartnerID     string `json:"partner_id"`
	AuthToken     string `json:"auth_token"`
	ProdURL       string `json:"prod_url"`
	TestURL       string `json:"test_url"`
	ProdLambdaURL string `json:"prod_lambda_url"`
	TestLambdaURL string `json:"test_lambda_url"`
}

// LoadPartner reads a partner config JSON file.
func LoadPartner(path string) (Partner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Partner{}, err
	}
	var p Partner
	if err := json.Unmarshal(raw, &p); err != nil {
		return Partner{}, fmt.Errorf("parse partner config %s: %w", path, err)
	}
	return p, nil
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	DatabaseDSN     string
	RedisAddr       string
	JWTSecret       string
	JWTAudience     string
	ObserverAddr    string
	StorageRoot     string
	KeepArtifacts   bool
	Production      bool
	CallbackURL     string
	ShutdownTimeout time.Duration
	SnapshotTTL     time.Duration
	SessionTimeout  time.Duration

	Partner Partner

	Reference         capture.Rect
	Thresholds        capture.Thresholds
	LivenessCount     int
	InterCaptureDelay time.Duration
}

// Load reads the environment, then the partner file named by
// SELFIE_CONFIG_FILE if set. Environment credentials win over the file.
func Load() (Config, error) {
	th := capture.DefaultThresholds()
	cfg := Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseDSN:     getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=selfie port=5432 sslmode=disable"),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:     os.Getenv("JWT_AUDIENCE"),
		ObserverAddr:    getEnv("FACE_OBSERVER_ADDR", "face-observer:50051"),
		StorageRoot:     getEnv("STORAGE_ROOT", "/var/lib/selfie-capture"),
		CallbackURL:     os.Getenv("CALLBACK_URL"),
		ShutdownTimeout: 15 * time.Second,
		SnapshotTTL:     10 * time.Minute,
		SessionTimeout:  2 * time.Minute,
		Reference: capture.Rect{
			X:      getFloat("REFERENCE_X", 0),
			Y:      getFloat("REFERENCE_Y", 0),
			Width:  getFloat("REFERENCE_WIDTH", 400),
			Height: getFloat("REFERENCE_HEIGHT", 400),
		},
		Thresholds: capture.Thresholds{
			MaxWidthRatio:   getFloat("GATE_MAX_WIDTH_RATIO", th.MaxWidthRatio),
			MinWidthRatio:   getFloat("GATE_MIN_WIDTH_RATIO", th.MinWidthRatio),
			MaxCentreOffset: getFloat("GATE_MAX_CENTRE_OFFSET", th.MaxCentreOffset),
			MaxRoll:         getFloat("GATE_MAX_ROLL", th.MaxRoll),
			MaxYaw:          getFloat("GATE_MAX_YAW", th.MaxYaw),
			MinQuality:      getFloat("GATE_MIN_QUALITY", th.MinQuality),
		},
		LivenessCount:     capture.DefaultLivenessCount,
		InterCaptureDelay: capture.DefaultInterCaptureDelay,
	}

	var err error
	if cfg.KeepArtifacts, err = getBool("KEEP_ARTIFACTS", false); err != nil {
		return Config{}, err
	}
	if cfg.Production, err = getBool("VERIFY_PRODUCTION", false); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("INTER_CAPTURE_DELAY"); v != "" {
		if cfg.InterCaptureDelay, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("INTER_CAPTURE_DELAY: %w", err)
		}
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if cfg.ShutdownTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
	}

	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		if cfg.SessionTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("SESSION_TIMEOUT: %w", err)
		}
	}

	if path := os.Getenv("SELFIE_CONFIG_FILE"); path != "" {
		if cfg.Partner, err = LoadPartner(path); err != nil {
			return Config{}, err
		}
	}
	cfg.Partner.PartnerID = getEnv("PARTNER_ID", cfg.Partner.PartnerID)
	cfg.Partner.AuthToken = getEnv("AUTH_TOKEN", cfg.Partner.AuthToken)
	cfg.Partner.ProdURL = getEnv("VERIFY_PROD_URL", cfg.Partner.ProdURL)
	cfg.Partner.TestURL = getEnv("VERIFY_TEST_URL", cfg.Partner.TestURL)

	return cfg, nil
}

// VerifyBaseURL picks the production or sandbox endpoint.
func (c Config) VerifyBaseURL() string {
	if c.Production {
		return c.Partner.ProdURL
	}
	return c.Partner.TestURL
}

// Engine returns the capture engine settings.
func (c Config) Engine() capture.Config {
	ec := capture.DefaultConfig(c.Reference)
	ec.Thresholds = c.Thresholds
	ec.Scheduler = capture.SchedulerConfig{
		LivenessCount:     c.LivenessCount,
		InterCaptureDelay: c.InterCaptureDelay,
	}
	return ec
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var missing []string
	if c.Partner.PartnerID == "" {
		missing = append(missing, "partner_id")
	}
	if c.Partner.AuthToken == "" {
		missing = append(missing, "auth_token")
	}
	if c.VerifyBaseURL() == "" {
		missing = append(missing, "verification url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	if c.Reference.Empty() {
		return fmt.Errorf("reference frame must have a positive size, got %+v", c.Reference)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

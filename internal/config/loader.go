package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Load sets default values to a fresh Config, then tries to override them with a .json config file (the path is stored in the CONFIG_PATH environment variable),
// and finally overrides values from environment variables. The result is validated before it is returned.
func Load() (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	// Overriding values from json if it is possible
	if err := loadFromJSON(cfg, getConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load config from JSON: %w", err)
	}

	// Overriding values from env
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Server = ServerConfig{
		Port:            "8080",
		Host:            "0.0.0.0",
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(30 * time.Second),
		ShutdownTimeout: Duration(10 * time.Second),
	}

	cfg.Database = DatabaseConfig{
		Host:            "localhost",
		Port:            "5432",
		User:            "postgres",
		Password:        "password",
		DBName:          "sessionauth",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		MigrateOnBoot:   true,
		CleanupInterval: Duration(time.Hour),
		TokenRetention:  Duration(30 * 24 * time.Hour),
	}

	cfg.Redis = RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}

	cfg.JWT = JWTConfig{
		Algorithm:       "HS256",
		AccessTokenTTL:  Duration(15 * time.Minute),
		RefreshTokenTTL: Duration(7 * 24 * time.Hour),
	}

	cfg.Password = PasswordConfig{
		MemoryKB:    64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
		MaxLength:   128,
		Workers:     runtime.GOMAXPROCS(0),
	}

	cfg.Cookie = CookieConfig{
		Name:     "refresh_token",
		Path:     "/v1/auth",
		Secure:   true,
		SameSite: "lax",
	}

	cfg.RateLimit = RateLimitConfig{
		LoginAttempts: 5,
		LoginWindow:   Duration(time.Minute),
	}

	cfg.Log = LogConfig{
		Level: "info",
	}
}

func loadFromJSON(cfg *Config, configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}

// loadFromEnv unmarshalles env variables for config from enviroment
func loadFromEnv(cfg *Config) error {
	return env.Parse(cfg)
}

// getConfigPath reads path to .json config from CONFIG_PATH env variable
func getConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join("config", "config.json")
}

func validate(cfg *Config) error {
	validate := validator.New()

	// Custom validation for Duration type: must be greater than 0
	if err := validate.RegisterValidation("duration_gt0", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(Duration)
		return ok && d > 0
	}); err != nil {
		return err
	}

	return validate.Struct(cfg)
}

package config

type Config struct {
	Server    ServerConfig    `json:"server" envPrefix:"SERVER_" validate:"required"`
	Database  DatabaseConfig  `json:"database" envPrefix:"DB_" validate:"required"`
	Redis     RedisConfig     `json:"redis" envPrefix:"REDIS_" validate:"required"`
	JWT       JWTConfig       `json:"jwt" envPrefix:"JWT_" validate:"required"`
	Password  PasswordConfig  `json:"password" envPrefix:"PASSWORD_" validate:"required"`
	Cookie    CookieConfig    `json:"cookie" envPrefix:"COOKIE_" validate:"required"`
	RateLimit RateLimitConfig `json:"rate_limit" envPrefix:"RATE_LIMIT_" validate:"required"`
	Log       LogConfig       `json:"log" envPrefix:"LOG_" validate:"required"`
}

type ServerConfig struct {
	Port            string   `json:"port" env:"PORT" validate:"required,numeric"`
	Host            string   `json:"host" env:"HOST" validate:"required,hostname|ip"`
	ReadTimeout     Duration `json:"read_timeout" env:"READ_TIMEOUT" validate:"required,duration_gt0"`
	WriteTimeout    Duration `json:"write_timeout" env:"WRITE_TIMEOUT" validate:"required,duration_gt0"`
	ShutdownTimeout Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"required,duration_gt0"`
	CORSOrigins     []string `json:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	Host          string `json:"host" env:"HOST" validate:"required,hostname|ip"`
	Port          string `json:"port" env:"PORT" validate:"required,numeric"`
	User          string `json:"user" env:"USER" validate:"required"`
	Password      string `json:"password" env:"PASSWORD" validate:"required"`
	DBName        string `json:"db_name" env:"NAME" validate:"required"`
	SSLMode       string `json:"ssl_mode" env:"SSL_MODE" validate:"required,oneof=disable require verify-ca verify-full"`
	MaxOpenConns  int    `json:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"gte=1"`
	MaxIdleConns  int    `json:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"gte=0"`
	MigrateOnBoot bool   `json:"migrate_on_boot" env:"MIGRATE_ON_BOOT"`
	// Expired refresh tokens are kept for TokenRetention for replay detection
	// and audit, then swept every CleanupInterval. A replay of a swept token
	// is unknown and fails with TokenInvalid, not TokenRevoked.
	CleanupInterval Duration `json:"cleanup_interval" env:"CLEANUP_INTERVAL" validate:"required,duration_gt0"`
	TokenRetention  Duration `json:"token_retention" env:"TOKEN_RETENTION" validate:"required,duration_gt0"`
}

type RedisConfig struct {
	Addr     string `json:"addr" env:"ADDR" validate:"required,hostname_port"`
	Password string `json:"password" env:"PASSWORD" validate:"omitempty"`
	DB       int    `json:"db" env:"DB" validate:"gte=0"`
}

type JWTConfig struct {
	SecretKey       string   `json:"secret_key" env:"SECRET_KEY" validate:"required,min=32"`
	Algorithm       string   `json:"algorithm" env:"ALGORITHM" validate:"required,oneof=HS256 HS384 HS512"`
	Issuer          string   `json:"issuer" env:"ISSUER" validate:"omitempty"`
	AccessTokenTTL  Duration `json:"access_token_ttl" env:"ACCESS_TOKEN_TTL" validate:"required,duration_gt0"`
	RefreshTokenTTL Duration `json:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" validate:"required,duration_gt0,gtfield=AccessTokenTTL"`
}

// PasswordConfig holds argon2id parameters. Raising any of them makes
// existing hashes eligible for rehash on the next successful login.
type PasswordConfig struct {
	MemoryKB    uint32 `json:"memory_kb" env:"MEMORY_KB" validate:"gte=8192"`
	Iterations  uint32 `json:"iterations" env:"ITERATIONS" validate:"gte=1"`
	Parallelism uint8  `json:"parallelism" env:"PARALLELISM" validate:"gte=1"`
	SaltLength  uint32 `json:"salt_length" env:"SALT_LENGTH" validate:"gte=16"`
	KeyLength   uint32 `json:"key_length" env:"KEY_LENGTH" validate:"gte=16"`
	MinLength   int    `json:"min_length" env:"MIN_LENGTH" validate:"gte=8"`
	MaxLength   int    `json:"max_length" env:"MAX_LENGTH" validate:"gtfield=MinLength,lte=1024"`
	Workers     int    `json:"workers" env:"WORKERS" validate:"gte=1"`
}

type CookieConfig struct {
	Name     string `json:"name" env:"NAME" validate:"required"`
	Path     string `json:"path" env:"PATH" validate:"required,startswith=/"`
	Domain   string `json:"domain" env:"DOMAIN" validate:"omitempty"`
	Secure   bool   `json:"secure" env:"SECURE"`
	SameSite string `json:"same_site" env:"SAME_SITE" validate:"required,oneof=lax strict none"`
}

type RateLimitConfig struct {
	LoginAttempts int      `json:"login_attempts" env:"LOGIN_ATTEMPTS" validate:"gte=0"`
	LoginWindow   Duration `json:"login_window" env:"LOGIN_WINDOW" validate:"required,duration_gt0"`
}

type LogConfig struct {
	Level string `json:"level" env:"LEVEL" validate:"required,oneof=debug info warn error"`
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	Outbox        OutboxConfig
	Storage       StorageConfig
	Search        SearchConfig
	Realtime      RealtimeConfig
	CORS          CORSConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOSTFOUND_APP_ENV" required:"true"`
	Port         string `envconfig:"LOSTFOUND_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LOSTFOUND_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOSTFOUND_LOG_WARN_STACK" default:"false"`
	PublicURL    string `envconfig:"LOSTFOUND_PUBLIC_URL" default:"http://localhost:8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"LOSTFOUND_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"LOSTFOUND_DB_DSN"`

	Host     string `envconfig:"LOSTFOUND_DB_HOST"`
	Port     int    `envconfig:"LOSTFOUND_DB_PORT" default:"5432"`
	User     string `envconfig:"LOSTFOUND_DB_USER"`
	Password string `envconfig:"LOSTFOUND_DB_PASSWORD"`
	Name     string `envconfig:"LOSTFOUND_DB_NAME"`
	SSLMode  string `envconfig:"LOSTFOUND_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOSTFOUND_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOSTFOUND_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOSTFOUND_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOSTFOUND_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOSTFOUND_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOSTFOUND_REDIS_ADDR"`
	Password     string        `envconfig:"LOSTFOUND_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOSTFOUND_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOSTFOUND_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOSTFOUND_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOSTFOUND_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOSTFOUND_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOSTFOUND_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"LOSTFOUND_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"LOSTFOUND_JWT_ISSUER" default:"lostfound"`
	ExpirationMinutes      int    `envconfig:"LOSTFOUND_JWT_EXPIRATION_MINUTES" default:"60"`
	RefreshTokenTTLMinutes int    `envconfig:"LOSTFOUND_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// AccessTokenTTL returns the access token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"LOSTFOUND_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"LOSTFOUND_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"LOSTFOUND_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"LOSTFOUND_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"LOSTFOUND_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"LOSTFOUND_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"LOSTFOUND_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"LOSTFOUND_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"LOSTFOUND_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"LOSTFOUND_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"LOSTFOUND_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LOSTFOUND_AUTO_MIGRATE" default:"false"`
	Search      bool `envconfig:"LOSTFOUND_FEATURE_SEARCH" default:"true"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"LOSTFOUND_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LOSTFOUND_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LOSTFOUND_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LOSTFOUND_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// StorageConfig drives the Cloudinary-backed bucket store and image pipeline.
type StorageConfig struct {
	CloudinaryURL string        `envconfig:"LOSTFOUND_CLOUDINARY_URL"`
	RootFolder    string        `envconfig:"LOSTFOUND_STORAGE_ROOT_FOLDER" default:"lostfound"`
	MaxUploadMB   int           `envconfig:"LOSTFOUND_MAX_UPLOAD_MB" default:"10"`
	ImageMaxDim   int           `envconfig:"LOSTFOUND_IMAGE_MAX_DIMENSION" default:"1024"`
	ImageQuality  int           `envconfig:"LOSTFOUND_IMAGE_JPEG_QUALITY" default:"85"`
	UploadTimeout time.Duration `envconfig:"LOSTFOUND_STORAGE_UPLOAD_TIMEOUT" default:"30s"`
}

// MaxUploadBytes returns the upload size cap in bytes.
func (s StorageConfig) MaxUploadBytes() int64 {
	if s.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(s.MaxUploadMB) << 20
}

type SearchConfig struct {
	Host  string `envconfig:"LOSTFOUND_MEILI_HOST"`
	Key   string `envconfig:"LOSTFOUND_MEILI_KEY"`
	Index string `envconfig:"LOSTFOUND_MEILI_INDEX" default:"items"`
}

// Enabled reports whether a search backend is configured.
func (s SearchConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type RealtimeConfig struct {
	SendBuffer     int           `envconfig:"LOSTFOUND_REALTIME_SEND_BUFFER" default:"64"`
	PingInterval   time.Duration `envconfig:"LOSTFOUND_REALTIME_PING_INTERVAL" default:"30s"`
	WriteTimeout   time.Duration `envconfig:"LOSTFOUND_REALTIME_WRITE_TIMEOUT" default:"10s"`
	MaxMessageSize int64         `envconfig:"LOSTFOUND_REALTIME_MAX_MESSAGE_BYTES" default:"4096"`
	AllowedOrigins []string      `envconfig:"LOSTFOUND_REALTIME_ALLOWED_ORIGINS"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"LOSTFOUND_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"LOSTFOUND_CRON_INTERVAL" default:"1h"`
	LockTTL               time.Duration `envconfig:"LOSTFOUND_CRON_LOCK_TTL" default:"10m"`
	NotificationRetention time.Duration `envconfig:"LOSTFOUND_CRON_NOTIFICATION_RETENTION" default:"720h"`
	OutboxRetention       time.Duration `envconfig:"LOSTFOUND_CRON_OUTBOX_RETENTION" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	discrete := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if discrete[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

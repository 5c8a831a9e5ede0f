package config

const (
	EnvPrefix = "LOSTFOUND"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "LOSTFOUND_APP_ENV"
	EnvPort      = "LOSTFOUND_APP_PORT"
	EnvDBDSN     = "LOSTFOUND_DB_DSN"
	EnvDBHost    = "LOSTFOUND_DB_HOST"
	EnvDBUser    = "LOSTFOUND_DB_USER"
	EnvDBName    = "LOSTFOUND_DB_NAME"
	EnvRedisURL  = "LOSTFOUND_REDIS_URL"
	EnvJWTSecret = "LOSTFOUND_JWT_SECRET"
	EnvJWTIssuer = "LOSTFOUND_JWT_ISSUER"
	EnvMeiliHost = "LOSTFOUND_MEILI_HOST"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package config

const (
	EnvPrefix = "CREDITSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "CREDITSYNC_APP_ENV"
	EnvPort         = "CREDITSYNC_APP_PORT"
	EnvDBDSN        = "CREDITSYNC_DB_DSN"
	EnvDBHost       = "CREDITSYNC_DB_HOST"
	EnvDBUser       = "CREDITSYNC_DB_USER"
	EnvDBName       = "CREDITSYNC_DB_NAME"
	EnvRedisURL     = "CREDITSYNC_REDIS_URL"
	EnvJWTSecret    = "CREDITSYNC_JWT_SECRET"
	EnvJWTIssuer    = "CREDITSYNC_JWT_ISSUER"
	EnvStripeAPIKey = "CREDITSYNC_STRIPE_API_KEY"
	EnvStripeSecret = "CREDITSYNC_STRIPE_SECRET"
	EnvGCPProjectID = "CREDITSYNC_GCP_PROJECT_ID"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package config

const (
	EnvPrefix = "EVTRADE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EventSinkPubSub = "pubsub"
	EventSinkKafka  = "kafka"
)

const (
	EnvAppEnv   = "EVTRADE_APP_ENV"
	EnvPort     = "EVTRADE_APP_PORT"
	EnvLogLevel = "EVTRADE_LOG_LEVEL"

	EnvDBDSN  = "EVTRADE_DB_DSN"
	EnvDBHost = "EVTRADE_DB_HOST"
	EnvDBUser = "EVTRADE_DB_USER"
	EnvDBName = "EVTRADE_DB_NAME"

	EnvRedisURL = "EVTRADE_REDIS_URL"

	EnvJWTSecret  = "EVTRADE_JWT_SECRET"
	EnvJWTIssuer  = "EVTRADE_JWT_ISSUER"
	EnvJWTExpMins = "EVTRADE_JWT_EXPIRATION_MINUTES"

	EnvGatewayTmnCode        = "EVTRADE_GATEWAY_TMN_CODE"
	EnvGatewayHashSecret     = "EVTRADE_GATEWAY_HASH_SECRET"
	EnvGatewayReturnURL      = "EVTRADE_GATEWAY_RETURN_URL"
	EnvGatewaySessionTimeout = "EVTRADE_GATEWAY_SESSION_TIMEOUT"

	EnvEscrowPendingExpiry = "EVTRADE_ESCROW_PENDING_EXPIRY_WINDOW"

	EnvEventingSink = "EVTRADE_EVENTING_SINK"
	EnvKafkaBrokers = "EVTRADE_KAFKA_BROKERS"
)

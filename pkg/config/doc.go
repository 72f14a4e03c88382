// Package config loads entitle configuration from environment variables.
//
// Database:
//
//	ENTITLE_DB_DIALECT="postgres"   # postgres, sqlite
//	ENTITLE_DB_URL="postgres://localhost/entitle?sslmode=disable"
//	ENTITLE_DB_REPLICA_URLS="postgres://replica-1/entitle,postgres://replica-2/entitle"
//	ENTITLE_DB_MAX_CONNS="20"
//	ENTITLE_DB_TIMEOUT="10s"
//
// Usage ledger:
//
//	ENTITLE_LEDGER_BACKEND="sql"    # sql, redis
//	ENTITLE_REDIS_URL="redis://localhost:6379/0"
//	ENTITLE_REDIS_KEY_PREFIX="usage"
//
// Plans and caching:
//
//	ENTITLE_CATALOG_PATH="/etc/entitle/catalog.yaml"
//	ENTITLE_CACHE_TTL="5s"          # 0 disables the snapshot cache
//	ENTITLE_CACHE_SIZE="10000"
//
// Observability:
//
//	ENTITLE_LOG_LEVEL="info"
//	ENTITLE_METRICS_ENABLED="true"
//	ENTITLE_HEALTH_PORT="9090"
//	ENTITLE_OTEL_ENABLED="true"
//	ENTITLE_OTEL_ENDPOINT="otel-collector:4317"
//
// Jobs (standard cron syntax or descriptors such as @hourly):
//
//	ENTITLE_JOB_OWNER_BACKFILL_SCHEDULE="@hourly"
//	ENTITLE_JOB_OVERRIDE_EXPIRY_SCHEDULE="*/5 * * * *"
//	ENTITLE_JOB_TIMEOUT="5m"
package config

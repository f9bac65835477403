// Package config loads and validates service configuration from ZODC_* environment variables.
//
// Server settings:
//
//	ZODC_HOST="0.0.0.0"
//	ZODC_PORT="8080"
//
// Storage settings:
//
//	ZODC_DATABASE_URL="postgres://localhost/zodc_auth?sslmode=disable"
//	ZODC_REDIS_URL="redis://localhost:6379/0"
//	ZODC_CACHE_L1_SIZE="10000"
//
// Token settings:
//
//	ZODC_JWT_SECRET="<at least 32 bytes>"
//	ZODC_ACCESS_TOKEN_TTL="30m"
//	ZODC_REFRESH_TOKEN_TTL="168h"
//
// RBAC settings:
//
//	ZODC_PERMISSION_CACHE_TTL="5m"
//	ZODC_ENFORCE_PROJECT_ROLE_KIND="true"
//	ZODC_RBAC_SEED_FILE="/etc/zodc/rbac.yaml"
package config

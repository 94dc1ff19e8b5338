package repository

import (
	"context"
	"time"

	"github.com/martiola68/studio-manager-pro-sub002/internal/domain"
	"github.com/martiola68/studio-manager-pro-sub002/internal/domain/m365"
)

// TenantRepository resolves hosts and slugs to tenants.
type TenantRepository interface {
	GetDomainByHost(ctx context.Context, host string) (domain.Domain, error)
	GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error)
}

// ConfigRepository stores the per-tenant Microsoft 365 application
// registration. Secret fields are opaque ciphertext envelopes; callers must
// decrypt deliberately.
type ConfigRepository interface {
	Get(ctx context.Context, tenantID int64) (m365.TenantConfig, error)
	Upsert(ctx context.Context, cfg m365.TenantConfig) (m365.TenantConfig, error)
}

// TokenRepository stores encrypted token bundles, at most one row per
// (tenant, user) pair. Upsert is idempotent; Revoke keeps the row for audit.
type TokenRepository interface {
	Get(ctx context.Context, tenantID, userID int64) (m365.TokenRecord, error)
	Upsert(ctx context.Context, rec m365.TokenRecord) (m365.TokenRecord, error)
	Revoke(ctx context.Context, tenantID, userID int64, at time.Time) error
	Delete(ctx context.Context, tenantID, userID int64) error
}

// StateRepository stores the ephemeral CSRF transaction state for in-flight
// authorization attempts. Consume is single-use: the row is removed whether
// or not the caller ultimately accepts it.
type StateRepository interface {
	Save(ctx context.Context, st m365.TxnState) error
	Consume(ctx context.Context, state string) (m365.TxnState, error)
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/martiola68/studio-manager-pro-sub002/internal/domain"
	"github.com/martiola68/studio-manager-pro-sub002/internal/domain/m365"
)

// Compile-time interface assertions.
var (
	_ TenantRepository = (*PostgresTenantRepo)(nil)
	_ ConfigRepository = (*PostgresConfigRepo)(nil)
	_ TokenRepository  = (*PostgresTokenRepo)(nil)
	_ StateRepository  = (*PostgresStateRepo)(nil)
)

// PostgresTenantRepo implements TenantRepository over pgx.
type PostgresTenantRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTenantRepo(pool *pgxpool.Pool) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: pool}
}

func (r *PostgresTenantRepo) GetDomainByHost(ctx context.Context, host string) (domain.Domain, error) {
	var row domain.Domain
	err := r.db.QueryRow(ctx,
		`SELECT id, host, tenant_id FROM tenant_domains WHERE host = $1`,
		host,
	).Scan(&row.ID, &row.Host, &row.TenantID)
	if err != nil {
		return domain.Domain{}, fmt.Errorf("get domain: %w", err)
	}
	return row, nil
}

func (r *PostgresTenantRepo) GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	var row domain.Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, slug, status, timezone, created_at, updated_at FROM tenants WHERE id = $1`,
		tenantID,
	).Scan(&row.ID, &row.Name, &row.Slug, &row.Status, &row.Timezone, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return row, nil
}

func (r *PostgresTenantRepo) GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	var row domain.Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, slug, status, timezone, created_at, updated_at FROM tenants WHERE slug = $1`,
		slug,
	).Scan(&row.ID, &row.Name, &row.Slug, &row.Status, &row.Timezone, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("get tenant by slug: %w", err)
	}
	return row, nil
}

// PostgresConfigRepo implements ConfigRepository.
type PostgresConfigRepo struct {
	db *pgxpool.Pool
}

func NewPostgresConfigRepo(pool *pgxpool.Pool) *PostgresConfigRepo {
	return &PostgresConfigRepo{db: pool}
}

const selectConfigSQL = `SELECT tenant_id, provider_tenant_id, client_id, client_secret_enc, enabled,
	organizer_email, teams_team_id, teams_channel_id, redirect_status_url, created_at, updated_at
FROM m365_tenant_configs WHERE tenant_id = $1`

const upsertConfigSQL = `INSERT INTO m365_tenant_configs
	(tenant_id, provider_tenant_id, client_id, client_secret_enc, enabled,
	 organizer_email, teams_team_id, teams_channel_id, redirect_status_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
ON CONFLICT (tenant_id) DO UPDATE SET
	provider_tenant_id = EXCLUDED.provider_tenant_id,
	client_id = EXCLUDED.client_id,
	client_secret_enc = EXCLUDED.client_secret_enc,
	enabled = EXCLUDED.enabled,
	organizer_email = EXCLUDED.organizer_email,
	teams_team_id = EXCLUDED.teams_team_id,
	teams_channel_id = EXCLUDED.teams_channel_id,
	redirect_status_url = EXCLUDED.redirect_status_url,
	updated_at = now()
RETURNING tenant_id, provider_tenant_id, client_id, client_secret_enc, enabled,
	organizer_email, teams_team_id, teams_channel_id, redirect_status_url, created_at, updated_at`

func (r *PostgresConfigRepo) Get(ctx context.Context, tenantID int64) (m365.TenantConfig, error) {
	var row m365.TenantConfig
	err := r.db.QueryRow(ctx, selectConfigSQL, tenantID).Scan(
		&row.TenantID, &row.ProviderTenantID, &row.ClientID, &row.ClientSecretEnc, &row.Enabled,
		&row.OrganizerEmail, &row.TeamsTeamID, &row.TeamsChannelID, &row.RedirectStatusURL,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return m365.TenantConfig{}, fmt.Errorf("get m365 config: %w", err)
	}
	return row, nil
}

func (r *PostgresConfigRepo) Upsert(ctx context.Context, cfg m365.TenantConfig) (m365.TenantConfig, error) {
	var row m365.TenantConfig
	err := r.db.QueryRow(ctx, upsertConfigSQL,
		cfg.TenantID, cfg.ProviderTenantID, cfg.ClientID, cfg.ClientSecretEnc, cfg.Enabled,
		cfg.OrganizerEmail, cfg.TeamsTeamID, cfg.TeamsChannelID, cfg.RedirectStatusURL,
	).Scan(
		&row.TenantID, &row.ProviderTenantID, &row.ClientID, &row.ClientSecretEnc, &row.Enabled,
		&row.OrganizerEmail, &row.TeamsTeamID, &row.TeamsChannelID, &row.RedirectStatusURL,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return m365.TenantConfig{}, fmt.Errorf("upsert m365 config: %w", err)
	}
	return row, nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const selectTokenSQL = `SELECT tenant_id, user_id, access_token_enc, refresh_token_enc, scope, flow,
	expires_at, obtained_at, revoked_at
FROM m365_tokens WHERE tenant_id = $1 AND user_id = $2`

const upsertTokenSQL = `INSERT INTO m365_tokens
	(tenant_id, user_id, access_token_enc, refresh_token_enc, scope, flow, expires_at, obtained_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)
ON CONFLICT (tenant_id, user_id) DO UPDATE SET
	access_token_enc = EXCLUDED.access_token_enc,
	refresh_token_enc = EXCLUDED.refresh_token_enc,
	scope = EXCLUDED.scope,
	flow = EXCLUDED.flow,
	expires_at = EXCLUDED.expires_at,
	obtained_at = EXCLUDED.obtained_at,
	revoked_at = NULL
RETURNING tenant_id, user_id, access_token_enc, refresh_token_enc, scope, flow, expires_at, obtained_at, revoked_at`

func (r *PostgresTokenRepo) Get(ctx context.Context, tenantID, userID int64) (m365.TokenRecord, error) {
	var row m365.TokenRecord
	err := r.db.QueryRow(ctx, selectTokenSQL, tenantID, userID).Scan(
		&row.TenantID, &row.UserID, &row.AccessTokenEnc, &row.RefreshTokenEnc, &row.Scope, &row.Flow,
		&row.ExpiresAt, &row.ObtainedAt, &row.RevokedAt,
	)
	if err != nil {
		return m365.TokenRecord{}, fmt.Errorf("get m365 token: %w", err)
	}
	return row, nil
}

func (r *PostgresTokenRepo) Upsert(ctx context.Context, rec m365.TokenRecord) (m365.TokenRecord, error) {
	var row m365.TokenRecord
	err := r.db.QueryRow(ctx, upsertTokenSQL,
		rec.TenantID, rec.UserID, rec.AccessTokenEnc, rec.RefreshTokenEnc, rec.Scope, rec.Flow,
		rec.ExpiresAt, rec.ObtainedAt,
	).Scan(
		&row.TenantID, &row.UserID, &row.AccessTokenEnc, &row.RefreshTokenEnc, &row.Scope, &row.Flow,
		&row.ExpiresAt, &row.ObtainedAt, &row.RevokedAt,
	)
	if err != nil {
		return m365.TokenRecord{}, fmt.Errorf("upsert m365 token: %w", err)
	}
	return row, nil
}

func (r *PostgresTokenRepo) Revoke(ctx context.Context, tenantID, userID int64, at time.Time) error {
	// No rows affected is fine: disconnect is idempotent.
	_, err := r.db.Exec(ctx,
		`UPDATE m365_tokens SET revoked_at = $3 WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		tenantID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("revoke m365 token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) Delete(ctx context.Context, tenantID, userID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM m365_tokens WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete m365 token: %w", err)
	}
	return nil
}

// PostgresStateRepo implements StateRepository.
type PostgresStateRepo struct {
	db *pgxpool.Pool
}

func NewPostgresStateRepo(pool *pgxpool.Pool) *PostgresStateRepo {
	return &PostgresStateRepo{db: pool}
}

func (r *PostgresStateRepo) Save(ctx context.Context, st m365.TxnState) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO m365_oauth_states (state, code_verifier, tenant_id, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		st.State, st.CodeVerifier, st.TenantID, st.UserID, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

func (r *PostgresStateRepo) Consume(ctx context.Context, state string) (m365.TxnState, error) {
	// DELETE ... RETURNING makes consumption atomic: a replayed state finds
	// no row.
	var row m365.TxnState
	err := r.db.QueryRow(ctx,
		`DELETE FROM m365_oauth_states WHERE state = $1
		 RETURNING state, code_verifier, tenant_id, user_id, created_at`,
		state,
	).Scan(&row.State, &row.CodeVerifier, &row.TenantID, &row.UserID, &row.CreatedAt)
	if err != nil {
		return m365.TxnState{}, fmt.Errorf("consume oauth state: %w", err)
	}
	return row, nil
}

package m365

import "time"

// Flow identifies how a token record was obtained. App-only tokens carry no
// refresh token and are re-acquired from scratch when they expire.
const (
	FlowDelegated = "delegated"
	FlowAppOnly   = "app_only"
)

// AppOnlyUserID is the reserved user id under which app-only token records
// are stored. App-only tokens belong to the tenant, not to any user.
const AppOnlyUserID int64 = 0

// TenantConfig holds the Microsoft 365 application registration for a studio.
// The client secret is stored as an opaque ciphertext envelope; a config
// without a secret uses the PKCE variant of the authorization-code flow.
type TenantConfig struct {
	TenantID          int64
	ProviderTenantID  string
	ClientID          string
	ClientSecretEnc   string
	Enabled           bool
	OrganizerEmail    string
	TeamsTeamID       string
	TeamsChannelID    string
	RedirectStatusURL string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UsesPKCE reports whether the delegated flow must run with a code verifier
// instead of a confidential client secret.
func (c TenantConfig) UsesPKCE() bool {
	return c.ClientSecretEnc == ""
}

// TokenRecord persists an encrypted Microsoft 365 token bundle for a
// (tenant, user) pair. At most one row exists per pair; refreshes upsert in
// place. A non-nil RevokedAt means the record is kept for audit but must be
// treated as absent for token acquisition.
type TokenRecord struct {
	TenantID        int64
	UserID          int64
	AccessTokenEnc  string
	RefreshTokenEnc string
	Scope           string
	Flow            string
	ExpiresAt       time.Time
	ObtainedAt      time.Time
	RevokedAt       *time.Time
}

// Revoked reports whether the record has been logically deleted.
func (r TokenRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// TxnState is the ephemeral CSRF binding for one in-flight authorization
// attempt. It is keyed by the opaque state value, bound to the caller's
// tenant and user at issuance, and consumed on first callback.
type TxnState struct {
	State        string
	CodeVerifier string
	TenantID     int64
	UserID       int64
	CreatedAt    time.Time
}

package jwt

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// SessionClaims are the custom claims the management platform puts on its
// session tokens. This service only validates them; issuing stays with the
// platform.
type SessionClaims struct {
	TenantID int64  `json:"tenant_id"`
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the session may mutate tenant configuration.
func (c SessionClaims) IsAdmin() bool {
	return c.Role == "admin" || c.Role == "owner"
}

// Verifier validates HS256 session tokens with the shared platform secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier from the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Validate parses and verifies a session token, returning standard and
// custom claims.
func (v *Verifier) Validate(token string) (*jwt.Claims, *SessionClaims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, nil, fmt.Errorf("parse session token: %w", err)
	}
	var std jwt.Claims
	var custom SessionClaims
	if err := parsed.Claims(v.secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify session token: %w", err)
	}
	if err := std.Validate(jwt.Expected{Time: v.now()}); err != nil {
		return nil, nil, fmt.Errorf("validate session claims: %w", err)
	}
	return &std, &custom, nil
}

// Sign mints a session token. Used by tests and local tooling; production
// tokens come from the platform.
func (v *Verifier) Sign(std jwt.Claims, custom SessionClaims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: v.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("init signer: %w", err)
	}
	token, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

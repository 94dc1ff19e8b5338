package m365

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the token lifecycle. Handlers map these to
// machine-readable codes; none of them are retried automatically.
var (
	// ErrConfigMissing means the studio has no Microsoft 365 configuration.
	ErrConfigMissing = errors.New("m365: configuration missing")
	// ErrConfigDisabled means the configuration exists but is switched off.
	// No flow step may proceed past this gate.
	ErrConfigDisabled = errors.New("m365: configuration disabled")
	// ErrInvalidState means the callback presented a state that is unknown,
	// expired, or already consumed.
	ErrInvalidState = errors.New("m365: invalid or expired oauth state")
	// ErrProviderDenied means the identity provider reported an error on the
	// authorization callback (user declined consent, policy block, ...).
	ErrProviderDenied = errors.New("m365: provider denied authorization")
	// ErrNotConnected means no usable token record exists for the pair.
	ErrNotConnected = errors.New("m365: account not connected")
	// ErrReauthorizationRequired means the delegated token expired and there
	// is no refresh token to renew it silently.
	ErrReauthorizationRequired = errors.New("m365: reauthorization required")
)

// TokenExchangeError reports a failed round trip to the identity provider's
// token endpoint. ProviderCode and ProviderDescription carry the raw error
// detail for operator diagnosis; user-facing messages stay generic.
type TokenExchangeError struct {
	Refresh             bool
	ProviderCode        string
	ProviderDescription string
	Err                 error
}

func (e *TokenExchangeError) Error() string {
	op := "token exchange"
	if e.Refresh {
		op = "token refresh"
	}
	if e.ProviderCode != "" {
		return fmt.Sprintf("m365: %s failed: %s: %s", op, e.ProviderCode, e.ProviderDescription)
	}
	return fmt.Sprintf("m365: %s failed: %v", op, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// Code returns the machine-readable error code for handler responses.
func (e *TokenExchangeError) Code() string {
	if e.Refresh {
		return "refresh_failed"
	}
	return "token_exchange_failed"
}

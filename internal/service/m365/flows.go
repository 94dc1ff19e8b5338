package m365

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	domainm365 "github.com/martiola68/studio-manager-pro-sub002/internal/domain/m365"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tokencache"
)

// graphDefaultScope is the resource-wide scope used by app-only tokens.
const graphDefaultScope = "https://graph.microsoft.com/.default"

// defaultDelegatedScopes includes offline_access so Microsoft returns a
// refresh token alongside the access token.
var defaultDelegatedScopes = []string{
	"openid",
	"offline_access",
	"User.Read",
	"Calendars.ReadWrite",
}

// ConnectOutput carries the authorization URL the browser must visit and the
// state bound to the transaction.
type ConnectOutput struct {
	AuthorizationURL string
	State            string
}

// StartConnect begins the delegated authorization-code flow for the caller.
// The variant is chosen by the stored configuration: with no client secret
// on file the flow runs with PKCE, otherwise the server-held secret is used
// at exchange time.
func (s *Service) StartConnect(ctx context.Context, tenantID, userID int64) (*ConnectOutput, error) {
	cfg, err := s.loadEnabledConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		// Microsoft-specific: response_mode=query keeps the code out of the
		// URL fragment.
		oauth2.SetAuthURLParam("response_mode", "query"),
	}
	verifier := ""
	if cfg.UsesPKCE() {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	if err := s.states.Save(ctx, domainm365.TxnState{
		State:        state,
		CodeVerifier: verifier,
		TenantID:     tenantID,
		UserID:       userID,
		CreatedAt:    s.now(),
	}); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}

	authURL := s.oauthConfig(cfg, "").AuthCodeURL(state, opts...)
	return &ConnectOutput{AuthorizationURL: authURL, State: state}, nil
}

// CallbackInput captures the provider's callback query parameters.
type CallbackInput struct {
	State                    string
	Code                     string
	ProviderError            string
	ProviderErrorDescription string
}

// CallbackResult identifies the transaction the callback resumed. It is
// returned alongside flow errors whenever the state row was recovered, so
// the handler can redirect to the right studio's status page either way.
type CallbackResult struct {
	TenantID          int64
	UserID            int64
	RedirectStatusURL string
}

// HandleCallback consumes the transaction, exchanges the code, and persists
// the encrypted token record. The transaction is single-use: it is removed
// from the store before any validation, so a replayed or failed callback can
// never be retried with the same state.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if in.State == "" {
		return nil, domainm365.ErrInvalidState
	}
	st, err := s.states.Consume(ctx, in.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainm365.ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if s.now().Sub(st.CreatedAt) > s.cfg.M365StateTTL {
		return nil, domainm365.ErrInvalidState
	}

	result := &CallbackResult{TenantID: st.TenantID, UserID: st.UserID}
	if cfg, err := s.configs.Get(ctx, st.TenantID); err == nil {
		result.RedirectStatusURL = cfg.RedirectStatusURL
	}

	if in.ProviderError != "" {
		s.log().Warn("m365 authorization denied by provider",
			zap.Int64("tenant_id", st.TenantID),
			zap.String("provider_error", in.ProviderError),
			zap.String("provider_error_description", in.ProviderErrorDescription))
		return result, domainm365.ErrProviderDenied
	}
	if in.Code == "" {
		return result, domainm365.ErrInvalidState
	}

	cfg, err := s.loadEnabledConfig(ctx, st.TenantID)
	if err != nil {
		return result, err
	}

	clientSecret := ""
	if !cfg.UsesPKCE() {
		clientSecret, err = s.cipher.Decrypt(cfg.ClientSecretEnc)
		if err != nil {
			s.log().Error("m365 client secret decryption failed, likely a master key rotation problem",
				zap.Int64("tenant_id", st.TenantID), zap.Error(err))
			return result, domainm365.ErrNotConnected
		}
	}

	var opts []oauth2.AuthCodeOption
	if st.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(st.CodeVerifier))
	}

	exCtx, cancel := s.providerContext(ctx)
	defer cancel()
	tok, err := s.oauthConfig(cfg, clientSecret).Exchange(exCtx, in.Code, opts...)
	if err != nil {
		// The provider already consumed the authorization code; a retry is
		// pointless.
		exErr := exchangeError(err, false)
		s.log().Error("m365 token exchange failed", zap.Int64("tenant_id", st.TenantID), zap.Error(exErr))
		return result, exErr
	}

	if _, err := s.persistToken(ctx, st.TenantID, st.UserID, domainm365.FlowDelegated, tok); err != nil {
		return result, err
	}
	return result, nil
}

// EnsureAppOnly runs the client-credentials flow and persists the resulting
// tenant-wide token record. App-only tokens carry no refresh token; expiry
// re-runs this flow from scratch.
func (s *Service) EnsureAppOnly(ctx context.Context, tenantID int64) (string, error) {
	cfg, err := s.loadEnabledConfig(ctx, tenantID)
	if err != nil {
		return "", err
	}
	tok, err := s.acquireAppOnly(ctx, cfg)
	if err != nil {
		return "", err
	}
	if _, err := s.persistToken(ctx, tenantID, domainm365.AppOnlyUserID, domainm365.FlowAppOnly, tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (s *Service) acquireAppOnly(ctx context.Context, cfg domainm365.TenantConfig) (*oauth2.Token, error) {
	if cfg.UsesPKCE() {
		return nil, fmt.Errorf("%w: app-only flow requires a client secret", domainm365.ErrConfigMissing)
	}
	clientSecret, err := s.cipher.Decrypt(cfg.ClientSecretEnc)
	if err != nil {
		s.log().Error("m365 client secret decryption failed, likely a master key rotation problem",
			zap.Int64("tenant_id", cfg.TenantID), zap.Error(err))
		return nil, domainm365.ErrNotConnected
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: clientSecret,
		TokenURL:     s.providerEndpoint(cfg).TokenURL,
		Scopes:       []string{graphDefaultScope},
	}
	ccCtx, cancel := s.providerContext(ctx)
	defer cancel()
	tok, err := cc.Token(ccCtx)
	if err != nil {
		exErr := exchangeError(err, false)
		s.log().Error("m365 client-credentials exchange failed", zap.Int64("tenant_id", cfg.TenantID), zap.Error(exErr))
		return nil, exErr
	}
	// App-only tokens must never be refreshed, only re-acquired.
	tok.RefreshToken = ""
	return tok, nil
}

// persistToken encrypts a provider token bundle, upserts it, and warms the
// cache.
func (s *Service) persistToken(ctx context.Context, tenantID, userID int64, flow string, tok *oauth2.Token) (domainm365.TokenRecord, error) {
	accessEnc, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return domainm365.TokenRecord{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc := ""
	if tok.RefreshToken != "" {
		refreshEnc, err = s.cipher.Encrypt(tok.RefreshToken)
		if err != nil {
			return domainm365.TokenRecord{}, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	scope, _ := tok.Extra("scope").(string)

	rec, err := s.tokens.Upsert(ctx, domainm365.TokenRecord{
		TenantID:        tenantID,
		UserID:          userID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		Scope:           scope,
		Flow:            flow,
		ExpiresAt:       tok.Expiry,
		ObtainedAt:      s.now(),
	})
	if err != nil {
		return domainm365.TokenRecord{}, fmt.Errorf("persist token: %w", err)
	}
	s.cache.Set(tokencache.Key{TenantID: tenantID, UserID: userID}, tok.AccessToken, tok.Expiry)
	return rec, nil
}

func (s *Service) oauthConfig(cfg domainm365.TenantConfig, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: clientSecret,
		Endpoint:     s.providerEndpoint(cfg),
		RedirectURL:  s.cfg.M365RedirectURL,
		Scopes:       defaultDelegatedScopes,
	}
}

func (s *Service) providerEndpoint(cfg domainm365.TenantConfig) oauth2.Endpoint {
	if s.endpoint != nil {
		return *s.endpoint
	}
	return microsoft.AzureADEndpoint(cfg.ProviderTenantID)
}

// providerContext bounds every identity-provider round trip.
func (s *Service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: s.cfg.M365TokenTimeout})
	return context.WithTimeout(ctx, s.cfg.M365TokenTimeout)
}

// exchangeError converts a token endpoint failure into the typed error the
// taxonomy requires, carrying the provider's raw error detail when present.
func exchangeError(err error, refresh bool) error {
	te := &domainm365.TokenExchangeError{Refresh: refresh, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te.ProviderCode = re.ErrorCode
		te.ProviderDescription = re.ErrorDescription
	}
	return te
}

func secureRandomString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

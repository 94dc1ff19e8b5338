package m365

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/martiola68/studio-manager-pro-sub002/internal/config"
	domainm365 "github.com/martiola68/studio-manager-pro-sub002/internal/domain/m365"
	"github.com/martiola68/studio-manager-pro-sub002/internal/repository"
	"github.com/martiola68/studio-manager-pro-sub002/internal/secrets"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tokencache"
)

// Service owns the Microsoft 365 token lifecycle for every studio: the three
// OAuth flow variants, transparent refresh, and the encrypted credential
// store. Every Graph-calling path obtains tokens exclusively through it.
type Service struct {
	configs repository.ConfigRepository
	tokens  repository.TokenRepository
	states  repository.StateRepository
	cipher  *secrets.Cipher
	cache   tokencache.Cache
	cfg     config.Config
	logger  *zap.Logger
	now     func() time.Time

	// endpoint overrides the Microsoft identity platform endpoint; tests
	// point it at a local fake.
	endpoint *oauth2.Endpoint

	refreshMu keyedMutex
}

// Option customizes a Service.
type Option func(*Service)

// WithEndpoint overrides the identity provider endpoint.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(s *Service) { s.endpoint = &ep }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the token lifecycle service.
func NewService(
	configs repository.ConfigRepository,
	tokens repository.TokenRepository,
	states repository.StateRepository,
	cipher *secrets.Cipher,
	cache tokencache.Cache,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		configs: configs,
		tokens:  tokens,
		states:  states,
		cipher:  cipher,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConfigInput is the administrative configuration save payload. An empty
// ClientSecret keeps the stored one unless ClearSecret is set; admin UIs do
// not echo secrets back.
type ConfigInput struct {
	ProviderTenantID  string
	ClientID          string
	ClientSecret      string
	ClearSecret       bool
	Enabled           bool
	OrganizerEmail    string
	TeamsTeamID       string
	TeamsChannelID    string
	RedirectStatusURL string
}

// SaveConfig encrypts the secret if provided, upserts the tenant config, and
// synchronously invalidates the tenant's cached tokens: tokens issued under
// the previous secret must not outlive it.
func (s *Service) SaveConfig(ctx context.Context, tenantID int64, in ConfigInput) (domainm365.TenantConfig, error) {
	if strings.TrimSpace(in.ProviderTenantID) == "" || strings.TrimSpace(in.ClientID) == "" {
		return domainm365.TenantConfig{}, errors.New("m365: provider tenant id and client id are required")
	}

	secretEnc := ""
	switch {
	case in.ClientSecret != "":
		enc, err := s.cipher.Encrypt(in.ClientSecret)
		if err != nil {
			return domainm365.TenantConfig{}, fmt.Errorf("encrypt client secret: %w", err)
		}
		secretEnc = enc
	case !in.ClearSecret:
		existing, err := s.configs.Get(ctx, tenantID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return domainm365.TenantConfig{}, fmt.Errorf("load existing config: %w", err)
		}
		secretEnc = existing.ClientSecretEnc
	}

	saved, err := s.configs.Upsert(ctx, domainm365.TenantConfig{
		TenantID:          tenantID,
		ProviderTenantID:  strings.TrimSpace(in.ProviderTenantID),
		ClientID:          strings.TrimSpace(in.ClientID),
		ClientSecretEnc:   secretEnc,
		Enabled:           in.Enabled,
		OrganizerEmail:    strings.TrimSpace(in.OrganizerEmail),
		TeamsTeamID:       strings.TrimSpace(in.TeamsTeamID),
		TeamsChannelID:    strings.TrimSpace(in.TeamsChannelID),
		RedirectStatusURL: strings.TrimSpace(in.RedirectStatusURL),
	})
	if err != nil {
		return domainm365.TenantConfig{}, err
	}

	s.cache.Invalidate(tenantID)
	return saved, nil
}

// GetConfig returns the stored configuration. The secret stays encrypted;
// handlers expose only its presence.
func (s *Service) GetConfig(ctx context.Context, tenantID int64) (domainm365.TenantConfig, error) {
	cfg, err := s.configs.Get(ctx, tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainm365.TenantConfig{}, domainm365.ErrConfigMissing
	}
	if err != nil {
		return domainm365.TenantConfig{}, err
	}
	return cfg, nil
}

// StatusOutput describes the connection state of a (tenant, user) pair,
// computed strictly from the stored record: connected means a non-empty
// access token ciphertext and no revocation.
type StatusOutput struct {
	Connected   bool
	ConnectedAt *time.Time
	ExpiresAt   *time.Time
	Scopes      []string
}

// Status reports whether the pair is connected.
func (s *Service) Status(ctx context.Context, tenantID, userID int64) (StatusOutput, error) {
	rec, err := s.tokens.Get(ctx, tenantID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusOutput{}, nil
	}
	if err != nil {
		return StatusOutput{}, err
	}
	if rec.Revoked() || rec.AccessTokenEnc == "" {
		return StatusOutput{}, nil
	}
	out := StatusOutput{Connected: true}
	obtained := rec.ObtainedAt
	out.ConnectedAt = &obtained
	expires := rec.ExpiresAt
	out.ExpiresAt = &expires
	if rec.Scope != "" {
		out.Scopes = strings.Fields(rec.Scope)
	}
	return out, nil
}

// Disconnect revokes the token record (or deletes it when purge is set) and
// drops the tenant's cached tokens. Disconnecting an already-disconnected
// account succeeds.
func (s *Service) Disconnect(ctx context.Context, tenantID, userID int64, purge bool) error {
	var err error
	if purge {
		err = s.tokens.Delete(ctx, tenantID, userID)
	} else {
		err = s.tokens.Revoke(ctx, tenantID, userID, s.now())
	}
	if err != nil {
		return err
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// loadEnabledConfig is the hard gate in front of every flow step.
func (s *Service) loadEnabledConfig(ctx context.Context, tenantID int64) (domainm365.TenantConfig, error) {
	cfg, err := s.configs.Get(ctx, tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainm365.TenantConfig{}, domainm365.ErrConfigMissing
	}
	if err != nil {
		return domainm365.TenantConfig{}, err
	}
	if !cfg.Enabled {
		return domainm365.TenantConfig{}, domainm365.ErrConfigDisabled
	}
	return cfg, nil
}

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

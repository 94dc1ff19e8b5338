package m365

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	domainm365 "github.com/martiola68/studio-manager-pro-sub002/internal/domain/m365"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tokencache"
)

// ValidAccessToken is the single entry point every Graph-calling path must
// use: cache hit, or decrypt-and-check the stored record, or refresh
// (delegated) / re-acquire (app-only) when expired.
func (s *Service) ValidAccessToken(ctx context.Context, tenantID, userID int64) (string, error) {
	key := tokencache.Key{TenantID: tenantID, UserID: userID}
	if token, ok := s.cache.Get(key); ok {
		return token, nil
	}
	return s.renew(ctx, key, false)
}

// ForceRefresh bypasses the cache and the stored token's expiry check. The
// Graph wrapper calls it after an authorization failure to distinguish a
// stale token from an actually invalid one.
func (s *Service) ForceRefresh(ctx context.Context, tenantID, userID int64) (string, error) {
	return s.renew(ctx, tokencache.Key{TenantID: tenantID, UserID: userID}, true)
}

func (s *Service) renew(ctx context.Context, key tokencache.Key, force bool) (string, error) {
	// Concurrent renewals of the same pair are safe (upsert is
	// last-write-wins and Microsoft refresh tokens tolerate duplicate round
	// trips); the per-key lock only suppresses the wasteful duplicates.
	unlock := s.refreshMu.lock(key)
	defer unlock()

	if !force {
		if token, ok := s.cache.Get(key); ok {
			return token, nil
		}
	}

	rec, err := s.tokens.Get(ctx, key.TenantID, key.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domainm365.ErrNotConnected
	}
	if err != nil {
		return "", err
	}
	if rec.Revoked() {
		return "", domainm365.ErrNotConnected
	}

	accessToken, err := s.cipher.Decrypt(rec.AccessTokenEnc)
	if err != nil {
		// Usually a master-key rotation problem rather than a user action;
		// logged distinctly but treated as disconnected so the user can
		// reconnect.
		s.log().Error("m365 stored token decryption failed",
			zap.Int64("tenant_id", key.TenantID), zap.Int64("user_id", key.UserID), zap.Error(err))
		return "", domainm365.ErrNotConnected
	}

	if !force && s.now().Before(rec.ExpiresAt.Add(-tokencache.SafetyMargin)) {
		s.cache.Set(key, accessToken, rec.ExpiresAt)
		return accessToken, nil
	}

	if rec.RefreshTokenEnc == "" {
		if rec.Flow == domainm365.FlowAppOnly {
			return s.EnsureAppOnly(ctx, key.TenantID)
		}
		// Delegated with nothing to refresh: the user must repeat the
		// interactive flow.
		return "", domainm365.ErrReauthorizationRequired
	}

	refreshToken, err := s.cipher.Decrypt(rec.RefreshTokenEnc)
	if err != nil {
		s.log().Error("m365 stored refresh token decryption failed",
			zap.Int64("tenant_id", key.TenantID), zap.Int64("user_id", key.UserID), zap.Error(err))
		return "", domainm365.ErrNotConnected
	}

	cfg, err := s.loadEnabledConfig(ctx, key.TenantID)
	if err != nil {
		return "", err
	}
	clientSecret := ""
	if !cfg.UsesPKCE() {
		clientSecret, err = s.cipher.Decrypt(cfg.ClientSecretEnc)
		if err != nil {
			s.log().Error("m365 client secret decryption failed, likely a master key rotation problem",
				zap.Int64("tenant_id", key.TenantID), zap.Error(err))
			return "", domainm365.ErrNotConnected
		}
	}

	rfCtx, cancel := s.providerContext(ctx)
	defer cancel()
	tok, err := s.oauthConfig(cfg, clientSecret).
		TokenSource(rfCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		// The stored record stays in place as a diagnostic trail until the
		// user explicitly disconnects.
		exErr := exchangeError(err, true)
		s.log().Error("m365 token refresh failed",
			zap.Int64("tenant_id", key.TenantID), zap.Int64("user_id", key.UserID), zap.Error(exErr))
		return "", exErr
	}
	// Microsoft sometimes omits the refresh token from a refresh response;
	// the previous one keeps working in that case.
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	if scope, _ := tok.Extra("scope").(string); scope == "" && rec.Scope != "" {
		tok = tok.WithExtra(map[string]interface{}{"scope": rec.Scope})
	}

	if _, err := s.persistToken(ctx, key.TenantID, key.UserID, rec.Flow, tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// keyedMutex hands out one mutex per cache key. Purely an optimization to
// avoid duplicate refresh round trips; correctness does not depend on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[tokencache.Key]*sync.Mutex
}

func (k *keyedMutex) lock(key tokencache.Key) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[tokencache.Key]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

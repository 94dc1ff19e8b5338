package tenant

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/martiola68/studio-manager-pro-sub002/internal/domain"
	"github.com/martiola68/studio-manager-pro-sub002/internal/repository"
)

// Context stores resolved tenant metadata used throughout the request
// lifecycle.
type Context struct {
	Domain domain.Domain
	Tenant domain.Tenant
}

// Resolver loads tenant metadata from the repository.
type Resolver struct {
	repo repository.TenantRepository
}

// NewResolver creates a tenant resolver.
func NewResolver(repo repository.TenantRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve loads tenant information from the host header.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(host))
	if cleaned == "" {
		zap.L().Warn("tenant resolver received empty host")
		return nil, fmt.Errorf("resolve tenant: empty host")
	}

	domainRow, err := r.repo.GetDomainByHost(ctx, cleaned)
	if err != nil {
		zap.L().Error("failed to resolve domain", zap.String("host", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve domain: %w", err)
	}

	tenantRow, err := r.repo.GetTenant(ctx, domainRow.TenantID)
	if err != nil {
		zap.L().Error("failed to resolve tenant", zap.String("host", cleaned), zap.Int64("tenant_id", domainRow.TenantID), zap.Error(err))
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	return &Context{Domain: domainRow, Tenant: tenantRow}, nil
}

// ResolveBySlug loads tenant information from an explicit tenant slug.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(slug))
	if cleaned == "" {
		return nil, fmt.Errorf("resolve tenant: empty slug")
	}

	tenantRow, err := r.repo.GetTenantBySlug(ctx, cleaned)
	if err != nil {
		zap.L().Error("failed to resolve tenant by slug", zap.String("slug", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	return &Context{Tenant: tenantRow}, nil
}

package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/martiola68/studio-manager-pro-sub002/internal/domain"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tenant"
)

func TestResolverResolve(t *testing.T) {
	repo := &mockTenantRepo{}
	resolver := tenant.NewResolver(repo)

	ctx, err := resolver.Resolve(context.Background(), "studio.rossi.example")
	require.NoError(t, err)
	require.Equal(t, int64(1), ctx.Tenant.ID)
	require.Equal(t, "Studio Rossi", ctx.Tenant.Name)
	require.Equal(t, "studio.rossi.example", ctx.Domain.Host)
}

func TestResolverResolveBySlug(t *testing.T) {
	repo := &mockTenantRepo{}
	resolver := tenant.NewResolver(repo)

	ctx, err := resolver.ResolveBySlug(context.Background(), "Studio-Rossi")
	require.NoError(t, err)
	require.Equal(t, "studio-rossi", ctx.Tenant.Slug)
}

func TestResolverRejectsEmptyHost(t *testing.T) {
	resolver := tenant.NewResolver(&mockTenantRepo{})
	_, err := resolver.Resolve(context.Background(), "  ")
	require.Error(t, err)
}

type mockTenantRepo struct{}

func (m *mockTenantRepo) GetDomainByHost(ctx context.Context, host string) (domain.Domain, error) {
	return domain.Domain{ID: 1, Host: host, TenantID: 1}, nil
}

func (m *mockTenantRepo) GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	return domain.Tenant{ID: tenantID, Name: "Studio Rossi", Slug: "studio-rossi", Status: "ACTIVE"}, nil
}

func (m *mockTenantRepo) GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	return domain.Tenant{ID: 1, Name: "Studio Rossi", Slug: slug, Status: "ACTIVE"}, nil
}

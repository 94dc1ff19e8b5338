package domain

import "time"

// Domain represents the mapping of a host name to a tenant.
type Domain struct {
	ID       int64
	Host     string
	TenantID int64
}

// Tenant represents a studio: an isolated customer organization. All
// Microsoft 365 credentials and tokens are partitioned by tenant.
type Tenant struct {
	ID        int64
	Name      string
	Slug      string
	Status    string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

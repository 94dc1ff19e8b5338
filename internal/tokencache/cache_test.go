package tokencache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsFreshToken(t *testing.T) {
	cache := NewMemory()
	key := Key{TenantID: 1, UserID: 7}

	cache.Set(key, "tok-a", time.Now().Add(time.Hour))
	token, ok := cache.Get(key)
	require.True(t, ok)
	require.Equal(t, "tok-a", token)

	_, ok = cache.Get(Key{TenantID: 1, UserID: 8})
	require.False(t, ok)
}

func TestGetMissesWithinSafetyMargin(t *testing.T) {
	now := time.Now()
	cache := NewMemory()
	cache.now = func() time.Time { return now }
	key := Key{TenantID: 1, UserID: 7}

	// Expires in one second: already inside the five-minute margin.
	cache.Set(key, "tok-a", now.Add(time.Second))
	_, ok := cache.Get(key)
	require.False(t, ok)

	cache.Set(key, "tok-b", now.Add(SafetyMargin+time.Minute))
	token, ok := cache.Get(key)
	require.True(t, ok)
	require.Equal(t, "tok-b", token)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(key)
	require.False(t, ok)
}

func TestInvalidateDropsWholeTenant(t *testing.T) {
	cache := NewMemory()
	expiry := time.Now().Add(time.Hour)
	cache.Set(Key{TenantID: 1, UserID: 7}, "a", expiry)
	cache.Set(Key{TenantID: 1, UserID: 8}, "b", expiry)
	cache.Set(Key{TenantID: 2, UserID: 7}, "c", expiry)

	cache.Invalidate(1)

	_, ok := cache.Get(Key{TenantID: 1, UserID: 7})
	require.False(t, ok)
	_, ok = cache.Get(Key{TenantID: 1, UserID: 8})
	require.False(t, ok)
	token, ok := cache.Get(Key{TenantID: 2, UserID: 7})
	require.True(t, ok)
	require.Equal(t, "c", token)
}

func TestClear(t *testing.T) {
	cache := NewMemory()
	cache.Set(Key{TenantID: 1, UserID: 7}, "a", time.Now().Add(time.Hour))
	cache.Clear()
	_, ok := cache.Get(Key{TenantID: 1, UserID: 7})
	require.False(t, ok)
}

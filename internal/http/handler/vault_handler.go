package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/martiola68/studio-manager-pro-sub002/internal/secrets"
)

type vaultKey struct {
	tenantID int64
	userID   int64
}

// VaultHandler exposes the session-scoped credential vault. Each (tenant,
// user) pair gets its own locker; the derived key lives only in memory and
// is discarded on lock or idle timeout.
type VaultHandler struct {
	mu      sync.Mutex
	lockers map[vaultKey]*secrets.Locker
	idle    time.Duration
}

// NewVaultHandler creates the vault handler.
func NewVaultHandler(idle time.Duration) *VaultHandler {
	if idle <= 0 {
		idle = secrets.DefaultIdleTimeout
	}
	return &VaultHandler{lockers: make(map[vaultKey]*secrets.Locker), idle: idle}
}

// Unlock derives the vault key from the supplied passphrase.
func (h *VaultHandler) Unlock(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	var req struct {
		Passphrase string `json:"passphrase" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Passphrase required."})
		return
	}

	if err := h.locker(vaultKey{tenantID, userID}).Unlock(req.Passphrase); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unlock_failed", "error_description": "Could not unlock the vault."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": true})
}

// Lock discards the derived key. Locking an already-locked vault succeeds.
func (h *VaultHandler) Lock(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	h.mu.Lock()
	locker, exists := h.lockers[vaultKey{tenantID, userID}]
	h.mu.Unlock()
	if exists {
		locker.Lock()
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": false})
}

// Status reports whether the caller's vault is currently unlocked.
func (h *VaultHandler) Status(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	h.mu.Lock()
	locker, exists := h.lockers[vaultKey{tenantID, userID}]
	h.mu.Unlock()

	unlocked := exists && locker.Unlocked()
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// Locker returns the caller's locker for other components that need the
// vault cipher.
func (h *VaultHandler) Locker(tenantID, userID int64) *secrets.Locker {
	return h.locker(vaultKey{tenantID, userID})
}

func (h *VaultHandler) locker(key vaultKey) *secrets.Locker {
	h.mu.Lock()
	defer h.mu.Unlock()
	locker, ok := h.lockers[key]
	if !ok {
		locker = secrets.NewLocker(h.idle)
		h.lockers[key] = locker
	}
	return locker
}

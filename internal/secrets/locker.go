package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations keeps passphrase brute-forcing deliberately expensive.
	kdfIterations = 120000
	saltSize      = 16

	// DefaultIdleTimeout is the inactivity window after which a derived key
	// is discarded and the passphrase must be re-entered.
	DefaultIdleTimeout = 15 * time.Minute
)

// ErrLocked is returned when the locker holds no usable key, either because
// it was never unlocked or because the idle timeout expired.
var ErrLocked = errors.New("secrets: locker is locked")

// Locker holds a session-scoped cipher whose key is derived from a
// user-supplied passphrase via PBKDF2-SHA256. It auto-locks after an idle
// window, wiping the derived key.
type Locker struct {
	mu       sync.Mutex
	cipher   *Cipher
	salt     []byte
	lastUsed time.Time
	idle     time.Duration
	now      func() time.Time
}

// NewLocker creates a locked locker. A non-positive idle duration falls back
// to DefaultIdleTimeout.
func NewLocker(idle time.Duration) *Locker {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Locker{idle: idle, now: time.Now}
}

// Unlock derives the key from the passphrase. The salt is generated on first
// unlock and reused afterwards so the same passphrase yields the same key
// within the locker's lifetime.
func (l *Locker) Unlock(passphrase string) error {
	if passphrase == "" {
		return errors.New("secrets: empty passphrase")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.salt == nil {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("secrets: generate salt: %w", err)
		}
		l.salt = salt
	}
	key := pbkdf2.Key([]byte(passphrase), l.salt, kdfIterations, keySize, sha256.New)
	cipher, err := NewCipherFromKey(key)
	if err != nil {
		return err
	}
	l.cipher = cipher
	l.lastUsed = l.now()
	return nil
}

// Cipher returns the session cipher, refreshing the idle clock. Returns
// ErrLocked when locked or when the idle window elapsed since last use.
func (l *Locker) Cipher() (*Cipher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cipher == nil {
		return nil, ErrLocked
	}
	now := l.now()
	if now.Sub(l.lastUsed) >= l.idle {
		l.cipher = nil
		return nil, ErrLocked
	}
	l.lastUsed = now
	return l.cipher, nil
}

// Lock discards the derived key immediately.
func (l *Locker) Lock() {
	l.mu.Lock()
	l.cipher = nil
	l.mu.Unlock()
}

// Unlocked reports whether a usable key is currently held. It does not
// refresh the idle clock.
func (l *Locker) Unlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cipher == nil {
		return false
	}
	if l.now().Sub(l.lastUsed) >= l.idle {
		l.cipher = nil
		return false
	}
	return true
}

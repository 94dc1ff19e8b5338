package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockerDerivesStableKey(t *testing.T) {
	locker := NewLocker(time.Minute)
	require.NoError(t, locker.Unlock("correct horse battery staple"))

	cipher, err := locker.Cipher()
	require.NoError(t, err)

	envelope, err := cipher.Encrypt("pin del cassetto fiscale")
	require.NoError(t, err)

	// Re-entering the same passphrase must yield a key that still opens
	// envelopes sealed before the relock.
	locker.Lock()
	require.NoError(t, locker.Unlock("correct horse battery staple"))
	cipher, err = locker.Cipher()
	require.NoError(t, err)

	plaintext, err := cipher.Decrypt(envelope)
	require.NoError(t, err)
	require.Equal(t, "pin del cassetto fiscale", plaintext)
}

func TestLockerStartsLocked(t *testing.T) {
	locker := NewLocker(time.Minute)
	_, err := locker.Cipher()
	require.ErrorIs(t, err, ErrLocked)
	require.False(t, locker.Unlocked())
}

func TestLockerAutoLocksAfterIdle(t *testing.T) {
	now := time.Now()
	locker := NewLocker(15 * time.Minute)
	locker.now = func() time.Time { return now }

	require.NoError(t, locker.Unlock("passphrase"))
	require.True(t, locker.Unlocked())

	now = now.Add(14 * time.Minute)
	_, err := locker.Cipher()
	require.NoError(t, err)

	// Each use refreshes the idle clock.
	now = now.Add(14 * time.Minute)
	require.True(t, locker.Unlocked())

	now = now.Add(16 * time.Minute)
	_, err = locker.Cipher()
	require.ErrorIs(t, err, ErrLocked)
	require.False(t, locker.Unlocked())
}

func TestLockerRejectsEmptyPassphrase(t *testing.T) {
	locker := NewLocker(time.Minute)
	require.Error(t, locker.Unlock(""))
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionIsActive(t *testing.T) {
	now := time.Now()

	require.True(t, Session{ExpiresAt: now.Add(time.Minute)}.IsActive(now))
	require.False(t, Session{ExpiresAt: now.Add(time.Minute), Revoked: true}.IsActive(now))
	require.False(t, Session{ExpiresAt: now}.IsActive(now), "expiresAt <= now counts as revoked")
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "a@b.com", NormalizeEmail("  A@B.Com "))
}

func TestParseMFAAction(t *testing.T) {
	for _, s := range []string{"setup", "enable", "disable"} {
		a, ok := ParseMFAAction(s)
		require.True(t, ok)
		require.Equal(t, MFAAction(s), a)
	}
	_, ok := ParseMFAAction("regenerate")
	require.False(t, ok)
}

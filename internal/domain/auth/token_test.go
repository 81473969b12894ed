package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)

	token, err := s.Sign(Identity{Subject: "user-1", Role: RoleAdmin})
	require.NoError(t, err)

	id, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)
	assert.True(t, id.IsAdmin())
}

func TestSigner_UnknownRoleIsUser(t *testing.T) {
	s, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)

	token, err := s.Sign(Identity{Subject: "user-1", Role: "root"})
	require.NoError(t, err)

	id, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
}

func TestSigner_Rejects(t *testing.T) {
	s, err := NewSigner("secret", time.Minute)
	require.NoError(t, err)
	other, err := NewSigner("other", time.Minute)
	require.NoError(t, err)

	foreign, err := other.Sign(Identity{Subject: "user-1"})
	require.NoError(t, err)

	issued := time.Now()
	s.now = func() time.Time { return issued }
	stale, err := s.Sign(Identity{Subject: "user-1"})
	require.NoError(t, err)
	s.now = func() time.Time { return issued.Add(time.Hour) }

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong key", token: foreign},
		{name: "expired", token: stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner("", time.Hour)
	require.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{Subject: "u"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", id.Subject)
	assert.False(t, id.IsAdmin())
}

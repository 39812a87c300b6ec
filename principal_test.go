package passwordless

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticUsers(t *testing.T) {
	users := NewStaticUsers("Alice@example.com", " ", "bob")
	assert.Len(t, users, 2)

	p, err := users.LookupUser(context.Background(), "alice@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@EXAMPLE.com", p.Username)
	assert.Empty(t, p.Authorities)

	_, err = users.LookupUser(context.Background(), "carol")
	assert.ErrorIs(t, err, ErrUserNotFound)

	users["admin"] = []string{"ROLE_ADMIN"}
	p, err = users.LookupUser(context.Background(), "admin")
	require.NoError(t, err)
	p.Authorities[0] = "changed"
	assert.Equal(t, []string{"ROLE_ADMIN"}, users["admin"])
}

func TestAnyUser(t *testing.T) {
	p, err := AnyUser{}.LookupUser(context.Background(), "whoever")
	require.NoError(t, err)
	assert.Equal(t, "whoever", p.Username)
	assert.NotNil(t, p.Authorities)
	assert.Empty(t, p.Authorities)
}

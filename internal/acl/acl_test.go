package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafs/stratafs/internal/metadata"
)

func TestCannedGrants(t *testing.T) {
	tests := []struct {
		canned string
		want   int
	}{
		{CannedPrivate, 1},
		{CannedPublicRead, 2},
		{CannedPublicReadWrite, 3},
		{CannedAuthenticatedRead, 2},
	}
	for _, tc := range tests {
		t.Run(tc.canned, func(t *testing.T) {
			grants := CannedGrants(tc.canned, "alice")
			require.Len(t, grants, tc.want)
			assert.Equal(t, "alice", grants[0].Grantee.ID)
			assert.Equal(t, PermissionFullControl, grants[0].Permission)
		})
	}

	t.Run("public-read grants AllUsers read", func(t *testing.T) {
		grants := CannedGrants(CannedPublicRead, "alice")
		assert.Equal(t, GroupAllUsers, grants[1].Grantee.URI)
		assert.Equal(t, PermissionRead, grants[1].Permission)
	})

	t.Run("unknown name", func(t *testing.T) {
		assert.Nil(t, CannedGrants("no-such-acl", "alice"))
	})
}

func TestDefault(t *testing.T) {
	a := Default("bob")
	assert.Equal(t, "bob", a.Owner.ID)
	require.Len(t, a.Grants, 1)
	assert.Equal(t, PermissionFullControl, a.Grants[0].Permission)
	assert.NoError(t, Validate(a))
}

func TestValidate(t *testing.T) {
	owner := metadata.Owner{ID: "bob"}

	t.Run("nil and missing owner", func(t *testing.T) {
		assert.ErrorIs(t, Validate(nil), metadata.ErrInvalidArgument)
		assert.ErrorIs(t, Validate(&metadata.ACLMetadata{}), metadata.ErrInvalidArgument)
	})

	t.Run("unknown permission", func(t *testing.T) {
		err := Validate(&metadata.ACLMetadata{Owner: owner, Grants: []metadata.Grant{
			{Grantee: metadata.Grantee{Type: GranteeTypeCanonicalUser, ID: "bob"}, Permission: "OWN"},
		}})
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
	})

	t.Run("canonical user needs an id", func(t *testing.T) {
		err := Validate(&metadata.ACLMetadata{Owner: owner, Grants: []metadata.Grant{
			{Grantee: metadata.Grantee{Type: GranteeTypeCanonicalUser}, Permission: PermissionRead},
		}})
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
	})

	t.Run("group needs a uri", func(t *testing.T) {
		err := Validate(&metadata.ACLMetadata{Owner: owner, Grants: []metadata.Grant{
			{Grantee: metadata.Grantee{Type: GranteeTypeGroup}, Permission: PermissionRead},
		}})
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
	})

	t.Run("well-formed document", func(t *testing.T) {
		err := Validate(&metadata.ACLMetadata{Owner: owner, Grants: []metadata.Grant{
			{Grantee: metadata.Grantee{Type: GranteeTypeCanonicalUser, ID: "bob"}, Permission: PermissionFullControl},
			{Grantee: metadata.Grantee{Type: GranteeTypeGroup, URI: GroupAuthenticatedUsers}, Permission: PermissionRead},
		}})
		assert.NoError(t, err)
	})
}

func TestValidPermission(t *testing.T) {
	for _, p := range []string{PermissionFullControl, PermissionWrite, PermissionWriteACP, PermissionRead, PermissionReadACP} {
		assert.True(t, ValidPermission(p))
	}
	assert.False(t, ValidPermission("READ_WRITE"))
}

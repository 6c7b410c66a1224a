package acl

import (
	"fmt"

	"github.com/stratafs/stratafs/internal/metadata"
)

// Canned ACL names
const (
	CannedPrivate           = "private"
	CannedPublicRead        = "public-read"
	CannedPublicReadWrite   = "public-read-write"
	CannedAuthenticatedRead = "authenticated-read"
)

// Grantee types
const (
	GranteeTypeCanonicalUser = "CanonicalUser"
	GranteeTypeGroup         = "Group"
)

// Permissions
const (
	PermissionFullControl = "FULL_CONTROL"
	PermissionWrite       = "WRITE"
	PermissionWriteACP    = "WRITE_ACP"
	PermissionRead        = "READ"
	PermissionReadACP     = "READ_ACP"
)

// Pre-defined grantee groups
const (
	GroupAllUsers           = "http://acs.amazonaws.com/groups/global/AllUsers"
	GroupAuthenticatedUsers = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
)

// CannedGrants returns the grant set for a canned ACL name, or nil when
// the name is not a recognized canned ACL.
func CannedGrants(canned, ownerID string) []metadata.Grant {
	ownerGrant := metadata.Grant{
		Grantee:    metadata.Grantee{Type: GranteeTypeCanonicalUser, ID: ownerID},
		Permission: PermissionFullControl,
	}

	switch canned {
	case CannedPrivate:
		return []metadata.Grant{ownerGrant}
	case CannedPublicRead:
		return []metadata.Grant{
			ownerGrant,
			{Grantee: metadata.Grantee{Type: GranteeTypeGroup, URI: GroupAllUsers}, Permission: PermissionRead},
		}
	case CannedPublicReadWrite:
		return []metadata.Grant{
			ownerGrant,
			{Grantee: metadata.Grantee{Type: GranteeTypeGroup, URI: GroupAllUsers}, Permission: PermissionRead},
			{Grantee: metadata.Grantee{Type: GranteeTypeGroup, URI: GroupAllUsers}, Permission: PermissionWrite},
		}
	case CannedAuthenticatedRead:
		return []metadata.Grant{
			ownerGrant,
			{Grantee: metadata.Grantee{Type: GranteeTypeGroup, URI: GroupAuthenticatedUsers}, Permission: PermissionRead},
		}
	}
	return nil
}

// Default returns the private ACL for an owner.
func Default(ownerID string) *metadata.ACLMetadata {
	return &metadata.ACLMetadata{
		Owner:  metadata.Owner{ID: ownerID},
		Grants: CannedGrants(CannedPrivate, ownerID),
	}
}

// ValidPermission reports whether p is one of the ACL permissions.
func ValidPermission(p string) bool {
	switch p {
	case PermissionFullControl, PermissionWrite, PermissionWriteACP, PermissionRead, PermissionReadACP:
		return true
	}
	return false
}

// Validate checks an ACL document before it is persisted: the owner must
// be set and every grant needs a known permission and a well-formed
// grantee (canonical user with an ID, or group with a URI).
func Validate(a *metadata.ACLMetadata) error {
	if a == nil {
		return fmt.Errorf("%w: acl is required", metadata.ErrInvalidArgument)
	}
	if a.Owner.ID == "" {
		return fmt.Errorf("%w: acl owner is required", metadata.ErrInvalidArgument)
	}
	for i, g := range a.Grants {
		if !ValidPermission(g.Permission) {
			return fmt.Errorf("%w: grant %d: unknown permission %q", metadata.ErrInvalidArgument, i, g.Permission)
		}
		switch g.Grantee.Type {
		case GranteeTypeCanonicalUser:
			if g.Grantee.ID == "" {
				return fmt.Errorf("%w: grant %d: canonical user grantee requires an id", metadata.ErrInvalidArgument, i)
			}
		case GranteeTypeGroup:
			if g.Grantee.URI == "" {
				return fmt.Errorf("%w: grant %d: group grantee requires a uri", metadata.ErrInvalidArgument, i)
			}
		default:
			return fmt.Errorf("%w: grant %d: unknown grantee type %q", metadata.ErrInvalidArgument, i, g.Grantee.Type)
		}
	}
	return nil
}

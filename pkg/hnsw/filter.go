package hnsw

import "github.com/orneryd/tenantsearch/pkg/metaval"

// AccessLevel is the five-level access model enforced during graph traversal
// (spec §3, §4.1.1).
type AccessLevel string

const (
	AccessPublic     AccessLevel = "PUBLIC"
	AccessGroup      AccessLevel = "GROUP"
	AccessManagers   AccessLevel = "MANAGERS"
	AccessAdmins     AccessLevel = "ADMINS"
	AccessRestricted AccessLevel = "RESTRICTED"
)

// Metadata keys with permission meaning (spec §3 "Metadata").
const (
	MetaAccessLevel       = "accessLevel"
	MetaGroupID           = "groupId"
	MetaRestrictedToUsers = "restrictedToUsers"
)

// UserRole is the caller's role, used both for the permission predicate and
// as the generic-ADMIN bypass (spec §4.1.1 step 1).
type UserRole string

const (
	RoleMember  UserRole = "MEMBER"
	RoleManager UserRole = "MANAGER"
	RoleAdmin   UserRole = "ADMIN"
)

// PermissionFilter is the caller's identity used to evaluate the permission
// block of a Filter (spec §4.1.1).
type PermissionFilter struct {
	UserID       string
	UserRole     UserRole
	UserGroupIDs []string
}

func (p *PermissionFilter) hasGroup(groupID string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.UserGroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

// Filter is the combination of an optional permission block and an open set
// of generic metadata conditions (spec §3 "Metadata", §4.1.1 "Generic filter
// operators"). A nil *Filter matches everything.
type Filter struct {
	Permissions *PermissionFilter
	Generic     map[string]metaval.Value
}

// Matches evaluates the permission block (if present) then every generic
// condition against n's metadata, per the evaluation order in spec §4.1.1.
func (f *Filter) Matches(n *Node) bool {
	if f == nil {
		return true
	}
	if f.Permissions != nil && !checkPermission(n.Metadata, f.Permissions) {
		return false
	}
	for key, expected := range f.Generic {
		actual, ok := n.Metadata[key]
		if !metaval.Matches(actual, ok, expected) {
			return false
		}
	}
	return true
}

// checkPermission implements spec §4.1.1's permission block evaluation
// order exactly:
//  1. ADMIN role bypasses the access-level check unconditionally.
//  2. Otherwise the node's accessLevel gates access.
func checkPermission(md metaval.Metadata, perm *PermissionFilter) bool {
	if perm.UserRole == RoleAdmin {
		return true
	}

	levelVal, ok := md[MetaAccessLevel]
	if !ok {
		return false
	}
	levelStr, ok := levelVal.AsString()
	if !ok {
		return false
	}

	switch AccessLevel(levelStr) {
	case AccessPublic:
		return true
	case AccessGroup:
		groupVal, ok := md[MetaGroupID]
		if !ok {
			return false
		}
		groupID, ok := groupVal.AsString()
		if !ok || groupID == "" {
			return false
		}
		return perm.hasGroup(groupID)
	case AccessManagers:
		return perm.UserRole == RoleManager || perm.UserRole == RoleAdmin
	case AccessAdmins:
		return perm.UserRole == RoleAdmin
	case AccessRestricted:
		listVal, ok := md[MetaRestrictedToUsers]
		if !ok {
			return false
		}
		items, ok := listVal.AsList()
		if !ok {
			return false
		}
		for _, it := range items {
			if s, ok := it.AsString(); ok && s == perm.UserID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// DeniedByGroup reports whether n was excluded from a result set specifically
// because of a GROUP access-level mismatch, the one case spec §4.2.5 requires
// a denial observation for. It returns the groupId to report alongside ok.
func DeniedByGroup(n *Node, perm *PermissionFilter) (groupID string, ok bool) {
	if perm == nil || perm.UserRole == RoleAdmin {
		return "", false
	}
	levelVal, has := n.Metadata[MetaAccessLevel]
	if !has {
		return "", false
	}
	levelStr, _ := levelVal.AsString()
	if AccessLevel(levelStr) != AccessGroup {
		return "", false
	}
	groupVal, has := n.Metadata[MetaGroupID]
	if !has {
		return "", false
	}
	gid, ok := groupVal.AsString()
	if !ok || gid == "" {
		return "", false
	}
	if perm.hasGroup(gid) {
		return "", false
	}
	return gid, true
}

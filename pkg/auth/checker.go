package auth

import (
	"fmt"
	"os/user"
	"sort"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Checker validates user permissions
type Checker struct {
	policy Policy
	groups func(username string) ([]string, error)
}

// NewChecker creates a permission checker that resolves group membership
// from the host's user database.
func NewChecker(policy Policy) *Checker {
	return &Checker{policy: policy, groups: osGroups}
}

// CheckUser verifies if a specific user has a permission. An empty
// username is a caller whose credentials are unknown.
func (c *Checker) CheckUser(username string, permission Permission) error {
	if c.Allowed(username, permission) {
		return nil
	}
	return &PermissionError{User: username, Permission: permission}
}

// Allowed reports whether username holds permission.
func (c *Checker) Allowed(username string, permission Permission) bool {
	if username != "" && contains(c.policy.SuperUsers, username) {
		return true
	}
	if members, ok := c.policy.Permissions[string(PermAll)]; ok && c.member(username, members) {
		return true
	}
	members, ok := c.policy.Permissions[string(permission)]
	return ok && c.member(username, members)
}

// ListPermissionsForUser returns all permissions a user has
func (c *Checker) ListPermissionsForUser(username string) []Permission {
	var perms []Permission
	for _, p := range Known {
		if p != PermAll && c.Allowed(username, p) {
			perms = append(perms, p)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// member reports whether username is named in members directly, through
// Anyone, or through one of its groups.
func (c *Checker) member(username string, members []string) bool {
	if contains(members, Anyone) {
		return true
	}
	if username == "" {
		return false
	}
	if contains(members, username) {
		return true
	}
	groups, err := c.groups(username)
	if err != nil {
		util.WithField("user", username).Debugf("auth: group lookup: %v", err)
		return false
	}
	for _, g := range groups {
		if contains(members, g) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func osGroups(username string) ([]string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if g, err := user.LookupGroupId(id); err == nil {
			names = append(names, g.Name)
		}
	}
	return names, nil
}

// PermissionError represents a permission denial
type PermissionError struct {
	User       string
	Permission Permission
}

func (e *PermissionError) Error() string {
	if e.User == "" {
		return fmt.Sprintf("permission denied: caller not identified for '%s'", e.Permission)
	}
	return fmt.Sprintf("permission denied: user '%s' does not have '%s' permission", e.User, e.Permission)
}

func (e *PermissionError) Unwrap() error {
	return util.ErrPermissionDenied
}

// Package auth decides which local users may use the control socket.
// Callers are identified by their Unix socket peer credentials.
package auth

// Permission defines an action that can be controlled
type Permission string

// Standard permissions
const (
	PermSessionView    Permission = "session.view"
	PermSessionControl Permission = "session.control"
	PermHistoryView    Permission = "history.view"

	// PermAll in a policy grants every permission.
	PermAll Permission = "all"
)

// Known lists the permissions a policy may name.
var Known = []Permission{PermSessionView, PermSessionControl, PermHistoryView, PermAll}

// Anyone in a permission's member list grants it to every caller,
// including ones whose credentials could not be read.
const Anyone = "*"

// Policy maps permissions to the users and groups holding them.
type Policy struct {
	// SuperUsers hold every permission.
	SuperUsers []string `yaml:"super_users"`
	// Permissions maps a permission name to user and group names.
	Permissions map[string][]string `yaml:"permissions"`
}

// DefaultPolicy lets anyone read status and history, and root or members
// of the netdev group start and stop the hotspot.
func DefaultPolicy() Policy {
	return Policy{
		SuperUsers: []string{"root"},
		Permissions: map[string][]string{
			string(PermSessionView):    {Anyone},
			string(PermHistoryView):    {Anyone},
			string(PermSessionControl): {"netdev"},
		},
	}
}

// Unknown returns the permission names in p that are not Known.
func (p Policy) Unknown() []string {
	var out []string
	for name := range p.Permissions {
		known := false
		for _, k := range Known {
			if name == string(k) {
				known = true
				break
			}
		}
		if !known {
			out = append(out, name)
		}
	}
	return out
}

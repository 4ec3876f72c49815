// Package host resolves the target hosts of an operation and keeps the SSH
// connections to them.
package host

// RoleApp is the only role hosts currently carry.
const RoleApp = "app"

// Host is a deploy target. It is built fresh for every operation.
type Host struct {
	Name  string
	Roles []string
}

// Names returns the host names in order.
func Names(hosts []Host) []string {
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	return names
}

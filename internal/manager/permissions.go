// Package manager implements capability delegation: a session may name a
// manager identity and grant it a bitmask of privileged operations it may
// authorize on the session's behalf.
package manager

import (
	"fmt"
	"strings"
)

// Permission is a bitmask of privileged operations.
type Permission uint32

const (
	// PermBootOut lets the manager authorize removing an idle player.
	PermBootOut Permission = 1 << iota
	// PermStart lets the manager start a session early on the group's behalf.
	PermStart

	PermNone Permission = 0
	PermAll             = PermBootOut | PermStart
)

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermBootOut, "boot_out"},
	{PermStart, "start"},
}

// Has reports whether every bit of want is granted.
func (p Permission) Has(want Permission) bool {
	return want != 0 && p&want == want
}

func (p Permission) String() string {
	if p == PermNone {
		return "none"
	}
	var parts []string
	for _, pn := range permissionNames {
		if p&pn.perm != 0 {
			parts = append(parts, pn.name)
		}
	}
	if rest := p &^ PermAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParsePermissions parses names such as "boot_out" or "start". "all" grants
// every known permission.
func ParsePermissions(names []string) (Permission, error) {
	var p Permission
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == "all" {
			p |= PermAll
			continue
		}
		found := false
		for _, pn := range permissionNames {
			if pn.name == name {
				p |= pn.perm
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown permission %q", raw)
		}
	}
	return p, nil
}

// Operation is a privileged engine operation.
type Operation string

const (
	OpBootOut Operation = "boot_out"
	OpStart   Operation = "start"
)

// Required returns the permission bit gating op.
func (op Operation) Required() Permission {
	switch op {
	case OpBootOut:
		return PermBootOut
	case OpStart:
		return PermStart
	}
	return PermNone
}

// OperationContext describes the request being authorized.
type OperationContext struct {
	Caller       string `json:"caller"`
	TargetPlayer int    `json:"target_player,omitempty"`
	TargetOwner  string `json:"target_owner,omitempty"`
	IdleFor      string `json:"idle_for,omitempty"`
}

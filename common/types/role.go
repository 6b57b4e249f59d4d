package types

import (
	"strings"

	"github.com/pkg/errors"
)

// Role is a network function bound to a host.
type Role string

const (
	RoleZookeeper  Role = "zookeeper"
	RoleKafka      Role = "kafka"
	RoleOrderer    Role = "orderer"
	RoleOrdererCLI Role = "orderer-cli"
	RolePeer       Role = "peer"
	RolePeerCLI    Role = "peer-cli"
	RoleExplorer   Role = "explorer"
)

// Roles lists every role in deployment order.
var Roles = []Role{
	RoleZookeeper,
	RoleKafka,
	RoleOrderer,
	RoleOrdererCLI,
	RolePeer,
	RolePeerCLI,
	RoleExplorer,
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", errors.Errorf("module %q is not supported, expected one of %s", s, joinRoles())
}

// IsPeerFamily reports whether the role is scoped by organization.
func (r Role) IsPeerFamily() bool {
	return r == RolePeer || r == RolePeerCLI
}

func (r Role) String() string { return string(r) }

func joinRoles() string {
	names := make([]string, len(Roles))
	for i, r := range Roles {
		names[i] = string(r)
	}
	return strings.Join(names, "/")
}

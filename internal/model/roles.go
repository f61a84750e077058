package model

import "fmt"

// Role represents the RBAC role assigned to an API client.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleReader Role = "reader"
)

// Client is an API client identity as configured in the keyring.
type Client struct {
	ClientID string
	Role     Role
	KeyHash  string // Argon2id hash of the client's API key, "salt$hash" base64.
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAgent:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ParseRole validates a role string from the keyring.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleAgent, RoleReader:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q (want admin, agent, or reader)", s)
	}
}

// ValidateAgentID checks that an agent identifier conforms to the allowed
// format. Routing sources and targets and API client IDs all use it: 1-255
// ASCII characters, alphanumeric plus dots, hyphens, underscores, and @
// signs. The field name is included in the error so handlers can pass it
// straight through.
func ValidateAgentID(field, id string) error {
	if len(id) == 0 {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > 255 {
		return fmt.Errorf("%s must be at most 255 characters", field)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("%s contains invalid character at position %d: %q", field, i, c)
		}
	}
	return nil
}

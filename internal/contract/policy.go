package contract

import "github.com/alanyoungcy/sbtcoptions/internal/domain"

// Role is the capability a caller needs to invoke a function.
type Role uint8

const (
	RoleAny Role = iota
	RoleOwner
	RoleOracle
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleOracle:
		return "oracle"
	default:
		return "any"
	}
}

// authorize is the single place identity checks happen. It runs for every
// call before the handler.
func authorize(t *txn, role Role, caller domain.Principal) error {
	switch role {
	case RoleOwner:
		if caller != t.base.Owner {
			return domain.ErrNotAuthorized
		}
	case RoleOracle:
		if caller != t.oracle.Updater {
			return domain.ErrNotAuthorized
		}
	}
	return nil
}

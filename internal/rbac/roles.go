package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleApp         = "app"          // app installs: bridge methods and event stream
	RolePushGateway = "push_gateway" // push senders: webhooks only
	RoleAdmin       = "admin"
	RoleOperator    = "operator" // hidden role
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleOperator }

// Known reports whether role can be put into a token.
func Known(role string) bool {
	switch role {
	case RoleApp, RolePushGateway, RoleAdmin, RoleOperator:
		return true
	default:
		return false
	}
}

package membership

// Operation names a permission-checked engine action.
type Operation string

const (
	OpStage          Operation = "stage"
	OpResolve        Operation = "resolve"
	OpApply          Operation = "apply"
	OpReview         Operation = "review"
	OpAdminVariation Operation = "admin_variation"
)

// Checker answers "can this principal perform this operation". The engine
// consumes it as an external collaborator; identity issuance lives elsewhere.
type Checker interface {
	Can(userID uint, roles []string, op Operation) bool
}

// RoleChecker grants operations from the role claims carried in the token.
type RoleChecker struct{}

func (RoleChecker) Can(userID uint, roles []string, op Operation) bool {
	has := func(want string) bool {
		for _, r := range roles {
			if r == want {
				return true
			}
		}
		return false
	}

	if has("Admin") {
		return true
	}

	switch op {
	case OpStage, OpResolve, OpApply:
		return has("Editor")
	case OpReview:
		return has("Approver")
	case OpAdminVariation:
		return false
	}
	return false
}

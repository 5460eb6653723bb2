package schedule

import "github.com/iliyamo/meetup-schedule/internal/model"

// Action is a schedule operation subject to role checks.
type Action string

const (
	ActionPropose  Action = "propose"
	ActionFinalize Action = "finalize"
	ActionCancel   Action = "cancel"
	ActionDelete   Action = "delete"
)

// Authorize reports whether a participant with the given role and approval
// status may perform action.  Only approved members act at all; proposing
// is open to every role, state transitions and deletion are reserved for
// hosts and sub-hosts.
func Authorize(role model.Role, status model.ApprovalStatus, action Action) bool {
	if status != model.ApprovalApproved || !role.Valid() {
		return false
	}
	switch action {
	case ActionPropose:
		return true
	case ActionFinalize, ActionCancel, ActionDelete:
		return role == model.RoleHost || role == model.RoleSubHost
	}
	return false
}

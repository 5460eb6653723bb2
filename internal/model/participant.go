package model

// Role is a participant's role within a meetup.
type Role string

const (
	RoleHost    Role = "HOST"
	RoleSubHost Role = "SUB_HOST"
	RoleMember  Role = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleSubHost, RoleMember:
		return true
	}
	return false
}

// ApprovalStatus is a participant's membership approval state.
type ApprovalStatus string

const (
	ApprovalWaiting   ApprovalStatus = "WAITING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalCanceled  ApprovalStatus = "CANCELED"
	ApprovalWithdrawn ApprovalStatus = "WITHDRAWN"
)

// Participant links a user to a meetup.  The membership subsystem owns
// these rows; the schedule core only reads them to authorize actions and
// to resolve who receives notifications.
//
// Fields:
//
//	MeetupID – meetup the user belongs to.
//	UserID   – the member.
//	Role     – HOST, SUB_HOST or MEMBER.
//	Status   – WAITING, APPROVED, CANCELED or WITHDRAWN.
//	Contact  – delivery address for notifications (email, phone, handle).
type Participant struct {
	MeetupID string         // meetup_participants.meetup_id
	UserID   string         // meetup_participants.user_id
	Role     Role           // meetup_participants.role
	Status   ApprovalStatus // meetup_participants.status
	Contact  string         // meetup_participants.contact
}

// Approved reports whether the participant's membership is approved.
func (p Participant) Approved() bool { return p.Status == ApprovalApproved }

// Recipient returns the address notifications are sent to.  When no
// contact is recorded the user ID is used so the gateway can resolve it.
func (p Participant) Recipient() string {
	if p.Contact != "" {
		return p.Contact
	}
	return p.UserID
}

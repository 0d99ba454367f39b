package event

// Type identifies the type of domain event
type Type string

const (
	TypeApprovalRequested     Type = "approval.requested"
	TypeApprovalStepActivated Type = "approval.step_activated"
	TypeApprovalDecided       Type = "approval.decided"
	TypeApprovalCompleted     Type = "approval.completed"
	TypeApprovalCancelled     Type = "approval.cancelled"
	TypeApprovalExpired       Type = "approval.expired"
	TypeOrderTransitioned     Type = "order.transitioned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeApprovalRequested,
		TypeApprovalStepActivated,
		TypeApprovalDecided,
		TypeApprovalCompleted,
		TypeApprovalCancelled,
		TypeApprovalExpired,
		TypeOrderTransitioned:
		return true
	default:
		return false
	}
}

package entity

// OrderState is a purchase order lifecycle state
type OrderState string

const (
	OrderDraft           OrderState = "draft"
	OrderSubmitted       OrderState = "submitted"
	OrderPendingApproval OrderState = "pending_approval"
	OrderApproved        OrderState = "approved"
	OrderRejected        OrderState = "rejected"
	OrderOrdered         OrderState = "ordered"
	OrderReceived        OrderState = "received"
	OrderClosed          OrderState = "closed"
	OrderCancelled       OrderState = "cancelled"
)

var validOrderStates = map[OrderState]bool{
	OrderDraft:           true,
	OrderSubmitted:       true,
	OrderPendingApproval: true,
	OrderApproved:        true,
	OrderRejected:        true,
	OrderOrdered:         true,
	OrderReceived:        true,
	OrderClosed:          true,
	OrderCancelled:       true,
}

// IsValid checks if the state is one of the defined constants
func (s OrderState) IsValid() bool {
	return validOrderStates[s]
}

// IsTerminal reports whether no further transitions leave the state
func (s OrderState) IsTerminal() bool {
	return s == OrderClosed || s == OrderCancelled
}

// String returns the string representation of the state
func (s OrderState) String() string {
	return string(s)
}

// OrderAction is a purchase order lifecycle trigger
type OrderAction string

const (
	ActionSubmit          OrderAction = "submit"
	ActionRequestApproval OrderAction = "request_approval"
	ActionAutoApprove     OrderAction = "auto_approve"
	ActionApprove         OrderAction = "approve"
	ActionReject          OrderAction = "reject"
	ActionPlace           OrderAction = "place"
	ActionReceive         OrderAction = "receive"
	ActionClose           OrderAction = "close"
	ActionCancel          OrderAction = "cancel"
	ActionRevise          OrderAction = "revise"
)

// String returns the string representation of the action
func (a OrderAction) String() string {
	return string(a)
}

// ObjectTypePurchaseOrder is the approval object type of purchase orders
const ObjectTypePurchaseOrder = "purchase_order"

package entity

import "time"

// OrderHistory is the audit trail of a purchase order's lifecycle
type OrderHistory struct {
	ID        int64         `json:"id"`
	OrderID   string        `json:"order_id"`
	ActorID   string        `json:"actor_id"`
	FromState OrderState    `json:"from_state"`
	ToState   OrderState    `json:"to_state"`
	Action    OrderAction   `json:"action"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

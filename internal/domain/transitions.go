package domain

// CanTransitionTo reports whether the order state machine accepts s -> next.
// Every declared status has its own case; a self transition is always rejected.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusConfirmed:
		return next == OrderStatusShipped || next == OrderStatusCancelled
	case OrderStatusShipped:
		return next == OrderStatusReceived
	case OrderStatusReceived:
		return false
	case OrderStatusCancelled:
		return false
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	for _, next := range AllOrderStatuses {
		if s.CanTransitionTo(next) {
			return false
		}
	}
	return true
}

// CanTransitionTo reports whether the payment state machine accepts s -> next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusInitiated || next == PaymentStatusFailed
	case PaymentStatusInitiated:
		return next == PaymentStatusAuthorized || next == PaymentStatusFailed
	case PaymentStatusAuthorized:
		return next == PaymentStatusPaid || next == PaymentStatusFailed
	case PaymentStatusPaid:
		return next == PaymentStatusRefunded
	case PaymentStatusFailed:
		return false
	case PaymentStatusRefunded:
		return false
	default:
		return false
	}
}

func (s PaymentStatus) Terminal() bool {
	for _, next := range AllPaymentStatuses {
		if s.CanTransitionTo(next) {
			return false
		}
	}
	return true
}

package domain

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusSucceeded  PaymentStatus = "succeeded"
	StatusFailed     PaymentStatus = "failed"
	StatusCanceled   PaymentStatus = "canceled"
	StatusRefunded   PaymentStatus = "refunded"
)

// transitions lists, for each target status, the statuses it may be entered from.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusProcessing: {StatusPending},
	StatusSucceeded:  {StatusPending, StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
	StatusCanceled:   {StatusPending, StatusProcessing},
	StatusRefunded:   {StatusSucceeded},
}

// Transition is the payment state machine. It returns the next status and true when
// moving from current to target is legal; re-entering the current status, regressing
// a terminal status, or any unlisted pair returns false.
func Transition(current, target PaymentStatus) (PaymentStatus, bool) {
	for _, from := range transitions[target] {
		if from == current {
			return target, true
		}
	}
	return current, false
}

// Predecessors returns the statuses from which target may be entered.
func Predecessors(target PaymentStatus) []PaymentStatus {
	from := transitions[target]
	out := make([]PaymentStatus, len(from))
	copy(out, from)
	return out
}

// IsTerminal reports whether no further transition is possible except succeeded->refunded.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

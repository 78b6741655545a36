package models

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:  {StatusCheckedOut},
	StatusCheckedOut: {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the booking state machine.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s BookingStatus) []BookingStatus {
	return append([]BookingStatus(nil), transitions[s]...)
}

package booking

import "github.com/ukydev/urban-services/internal/models"

var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:    {models.StatusAccepted, models.StatusRejected},
	models.StatusAccepted:   {models.StatusOnTheWay, models.StatusCancelled},
	models.StatusOnTheWay:   {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted},
}

// CanTransition reports whether a booking in from may move to to. Repeating
// the current status is not a transition.
func CanTransition(from, to models.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.BookingStatus) bool {
	return len(transitions[s]) == 0
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s models.BookingStatus) []models.BookingStatus {
	return append([]models.BookingStatus(nil), transitions[s]...)
}

package lifecycle

import "time"

// Status is one step of the ambulance dispatch lifecycle.
type Status string

const (
	StatusPending           Status = "pending"
	StatusAccepted          Status = "accepted"
	StatusStartedJourney    Status = "started_journey"
	StatusOnTheWay          Status = "on_the_way"
	StatusAlmostThere       Status = "almost_there"
	StatusLookingForPatient Status = "looking_for_patient"
	StatusReceivedPatient   Status = "received_patient"
	StatusDroppingOff       Status = "dropping_off"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// statusOrder is the fixed 10-step sequence progress is derived from.
var statusOrder = []Status{
	StatusPending,
	StatusAccepted,
	StatusStartedJourney,
	StatusOnTheWay,
	StatusAlmostThere,
	StatusLookingForPatient,
	StatusReceivedPatient,
	StatusDroppingOff,
	StatusCompleted,
	StatusCancelled,
}

// etaWindow maps a status to the expected time until driver arrival. Statuses
// without an entry carry no ETA.
var etaWindow = map[Status]time.Duration{
	StatusAccepted:          15 * time.Minute,
	StatusStartedJourney:    12 * time.Minute,
	StatusOnTheWay:          10 * time.Minute,
	StatusAlmostThere:       5 * time.Minute,
	StatusLookingForPatient: 2 * time.Minute,
	StatusDroppingOff:       10 * time.Minute,
}

// Terminal reports whether no further transition is accepted from s.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Progress maps a status to a 0–100 percentage. Unknown statuses are 0.
func Progress(s Status) float64 {
	for i, step := range statusOrder {
		if step == s {
			return float64(i+1) / float64(len(statusOrder)) * 100
		}
	}
	return 0
}

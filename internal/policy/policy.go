// Package policy decides how job status transitions couple to live
// tracking. Status persistence and tracking start/stop are independent
// operations; these functions only say what the workflow should offer or
// do, never whether the status change itself is allowed.
package policy

// Statuses that mean the technician is departing toward the job.
var trackingStatuses = map[string]bool{
	"on_the_way":     true,
	"en_route":       true,
	"driving_to_job": true,
}

// Statuses that end the trip; an active session should be stopped, not
// left running.
var terminalStatuses = map[string]bool{
	"arrived":   true,
	"completed": true,
	"cancelled": true,
}

// ShouldOfferTracking reports whether a status transition should prompt
// the technician to start sharing their location. Consent-gated: the
// caller asks the user, it never starts tracking on its own.
func ShouldOfferTracking(previous, next string) bool {
	if previous == next {
		return false
	}
	return trackingStatuses[next]
}

// ShouldStopTracking reports whether an active session must be stopped as
// part of this transition.
func ShouldStopTracking(previous, next string) bool {
	if previous == next {
		return false
	}
	return terminalStatuses[next]
}

package gate

import (
	"github.com/questline/api/internal/client"
	"github.com/questline/api/internal/model"
)

// EmergencyThresholdMinutes is how close to closing a location must be for a
// non-leader to skip it.
const EmergencyThresholdMinutes = 10

// MayInvokeSkip decides whether this member may skip the current challenge.
// The leader always may. Any other member may only when the location is
// closed or closing within the threshold; no quorum, a single qualifying
// member acts alone. A nil availability (signal unavailable) never qualifies.
func MayInvokeSkip(membership *model.Membership, availability *client.Availability) bool {
	if membership == nil {
		return false
	}
	if membership.IsLeader {
		return true
	}
	if availability == nil {
		return false
	}

	switch availability.Status {
	case client.StatusClosed:
		return true
	case client.StatusClosingSoon:
		return availability.MinutesRemaining <= EmergencyThresholdMinutes
	default:
		return false
	}
}

package ics

import (
	"fmt"
	"strings"

	goical "github.com/arran4/golang-ical"
	"github.com/klokku/calsync/pkg/event"
)

var partstatToStatus = map[goical.ParticipationStatus]event.ParticipantStatus{
	goical.ParticipationStatusNeedsAction: event.ParticipantNoReply,
	goical.ParticipationStatusAccepted:    event.ParticipantYes,
	goical.ParticipationStatusDeclined:    event.ParticipantNo,
	goical.ParticipationStatusTentative:   event.ParticipantMaybe,
}

var statusToPartstat = invert(partstatToStatus)

// invert builds the reverse table and panics at start-up if any participant
// status has no PARTSTAT or two PARTSTATs share one.
func invert(m map[goical.ParticipationStatus]event.ParticipantStatus) map[event.ParticipantStatus]goical.ParticipationStatus {
	inverse := make(map[event.ParticipantStatus]goical.ParticipationStatus, len(m))
	for partstat, status := range m {
		if _, ok := inverse[status]; ok {
			panic(fmt.Sprintf("participant status %q mapped twice", status))
		}
		inverse[status] = partstat
	}
	for _, status := range event.ParticipantStatuses {
		if _, ok := inverse[status]; !ok {
			panic(fmt.Sprintf("participant status %q has no PARTSTAT", status))
		}
	}
	return inverse
}

// StatusFromPartstat maps a PARTSTAT value, defaulting to noreply when it is
// absent or unrecognized.
func StatusFromPartstat(partstat string) event.ParticipantStatus {
	if status, ok := partstatToStatus[goical.ParticipationStatus(strings.ToUpper(strings.TrimSpace(partstat)))]; ok {
		return status
	}
	return event.ParticipantNoReply
}

// PartstatFromStatus maps a participant status back to its PARTSTAT.
func PartstatFromStatus(status event.ParticipantStatus) goical.ParticipationStatus {
	if partstat, ok := statusToPartstat[status]; ok {
		return partstat
	}
	return goical.ParticipationStatusNeedsAction
}

package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusTentative Status = "tentative"
)

// ParseStatus accepts a STATUS value in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusTentative:
		return StatusTentative, nil
	}
	return "", fmt.Errorf("unknown event status %q", s)
}

type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

type Organizer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Details holds the fields shared by every event variant, whether parsed from
// an ICS payload, persisted, or inflated from a recurrence rule.
type Details struct {
	Uid            string
	SequenceNumber int

	Title       string
	Description string
	Location    string

	// Start and End are UTC instants, or UTC midnights of civil dates when AllDay is set.
	Start                 time.Time
	End                   time.Time
	AllDay                bool
	OriginalStartTimezone string

	Status Status
	Busy   bool
	// Recurrence is the raw recurrence text, e.g. "RRULE:FREQ=WEEKLY;BYDAY=MO".
	Recurrence string

	Organizer       *Organizer
	IsOrganizerSelf bool
	Participants    []Participant

	LastModified time.Time
}

// Duration is the length of the event, which recurrence inflation preserves.
func (d Details) Duration() time.Duration {
	return d.End.Sub(d.Start)
}

// Event is a record owned by the event store.
type Event struct {
	Id          int64
	PublicId    string
	NamespaceId int
	CalendarId  int
	MessageId   int64
	ReadOnly    bool
	Source      Source
	Kind        Kind
	Details
}

// NewEvent stages a first-seen event in the given calendar.
func NewEvent(namespaceId, calendarId int, details Details) (Event, error) {
	kind, err := kindFor(Plain{}, details)
	if err != nil {
		return Event{}, err
	}
	details = cloneDetails(details)
	if len(details.Participants) > 0 {
		details.Participants = MergeParticipants(nil, details.Participants)
	}
	return Event{
		PublicId:    uuid.NewString(),
		NamespaceId: namespaceId,
		CalendarId:  calendarId,
		Source:      SourceLocal,
		Kind:        kind,
		Details:     details,
	}, nil
}

// WithUpdate overwrites every mutable field with the incoming version and
// partially merges the participant lists.
func (e Event) WithUpdate(incoming Details) (Event, error) {
	kind, err := kindFor(e.Kind, incoming)
	if err != nil {
		return Event{}, err
	}
	merged := MergeParticipants(e.Participants, incoming.Participants)
	e.Details = cloneDetails(incoming)
	e.Participants = merged
	e.Kind = kind
	e.ReadOnly = false
	return e, nil
}

// WithParticipants applies a reply: only participant data changes.
func (e Event) WithParticipants(incoming []Participant) Event {
	e.Participants = MergeParticipants(e.Participants, incoming)
	return e
}

func cloneDetails(d Details) Details {
	if d.Organizer != nil {
		organizer := *d.Organizer
		d.Organizer = &organizer
	}
	d.Participants = append([]Participant(nil), d.Participants...)
	return d
}

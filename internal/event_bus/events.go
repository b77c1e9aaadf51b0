package event_bus

const (
	ParticipantsUpdated EventType = "calendar_event.participants_updated"
	AttachmentsImported EventType = "calendar_event.attachments_imported"
)

// EventParticipantsUpdated is published after a reply changed the participants
// of an event stored outside the inbound calendar.
type EventParticipantsUpdated struct {
	NamespaceId int
	EventId     int64
	PublicId    string
	Uid         string
	// Emails are the repliers whose status changed.
	Emails []string
}

// AttachmentsImportedReport summarizes one processed message.
type AttachmentsImportedReport struct {
	AccountId int
	Created   int
	Updated   int
	Stale     int
	Replies   int
	Skipped   int
}

package account

import "github.com/klokku/calsync/pkg/event"

type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderImap    Provider = "imap"
)

// Account is a mailbox whose calendar traffic is reconciled into one namespace.
type Account struct {
	Id           int
	NamespaceId  int
	EmailAddress string
	Name         string
	Provider     Provider
	// EmailedEventsCalendarId is the calendar holding events that arrived by mail.
	EmailedEventsCalendarId int
}

// AsOrganizer presents the account as the organizer or replier of an invite.
func (a Account) AsOrganizer() event.Organizer {
	return event.Organizer{Name: a.Name, Email: a.EmailAddress}
}

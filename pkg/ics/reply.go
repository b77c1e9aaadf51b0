package ics

import (
	"strings"

	"github.com/klokku/calsync/pkg/address"
)

var unreplyableSenders = []string{
	"calendar-notification@google.com",
	"noreply@email.apple.com",
}

var unreplyableDomains = []string{
	"imip.me.com",
}

// ReplyTarget picks the address an RSVP should be sent to. The sender of the
// invite is preferred; the organizer is used only when the sender is a
// provider notification address that does not accept replies.
func ReplyTarget(sender, organizerEmail string) string {
	if sender == "" || isUnreplyable(sender) {
		return organizerEmail
	}
	return sender
}

func isUnreplyable(sender string) bool {
	canonical := address.Canonicalize(sender)
	local, domain, _ := strings.Cut(canonical, "@")
	if local == "noreply" || local == "no-reply" {
		return true
	}
	for _, s := range unreplyableSenders {
		if canonical == s {
			return true
		}
	}
	for _, d := range unreplyableDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

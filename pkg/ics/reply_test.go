package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplyTarget(t *testing.T) {
	testCases := []struct {
		name   string
		sender string
		want   string
	}{
		{name: "regular sender", sender: "alice@example.com", want: "alice@example.com"},
		{name: "google notification", sender: "Google Calendar <calendar-notification@google.com>", want: "organizer@example.com"},
		{name: "apple noreply", sender: "noreply@email.apple.com", want: "organizer@example.com"},
		{name: "icloud imip", sender: "12345@imip.me.com", want: "organizer@example.com"},
		{name: "generic no-reply", sender: "no-reply@events.example.com", want: "organizer@example.com"},
		{name: "missing sender", sender: "", want: "organizer@example.com"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReplyTarget(tc.sender, "organizer@example.com"))
		})
	}
}

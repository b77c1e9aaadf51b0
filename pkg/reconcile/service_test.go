package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klokku/calsync/internal/event_bus"
	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	inboundCalendarId   = 1
	organizerCalendarId = 2
	uidDomain           = "calsync.test"
)

var (
	start = time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	testAccount = account.Account{
		Id:                      1,
		NamespaceId:             1,
		EmailAddress:            "me@example.com",
		Name:                    "Me",
		Provider:                account.ProviderImap,
		EmailedEventsCalendarId: inboundCalendarId,
	}
)

func setupServiceTest(t *testing.T) (*ServiceImpl, *event.RepositoryStub, *event_bus.EventBus) {
	repo := event.NewRepositoryStub()
	bus := event_bus.NewEventBus(&utils.MockClock{FixedNow: start})
	return NewService(repo, bus, uidDomain), repo, bus
}

func payload(method string, uid string, sequence int, extra ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"METHOD:" + method,
		"BEGIN:VEVENT",
		"UID:" + uid,
		fmt.Sprintf("SEQUENCE:%d", sequence),
		"DTSTAMP:20240101T080000Z",
		"DTSTART:20240110T100000Z",
		"DTEND:20240110T110000Z",
	}
	lines = append(lines, extra...)
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")
	return []byte(strings.Join(lines, "\r\n"))
}

func attachment(data []byte) Attachment {
	return Attachment{Filename: "invite.ics", ContentType: "text/calendar; charset=utf-8; method=REQUEST", Data: data}
}

func invite(uid string, sequence int, title string, participants ...event.Participant) ics.ParsedEvent {
	return ics.ParsedEvent{
		Intent: ics.IntentInvite,
		Details: event.Details{
			Uid:            uid,
			SequenceNumber: sequence,
			Title:          title,
			Start:          start,
			End:            start.Add(time.Hour),
			Status:         event.StatusConfirmed,
			Busy:           true,
			Participants:   participants,
			LastModified:   start,
		},
	}
}

// storedOrganizerEvent is an event we created and sent invites for.
func storedOrganizerEvent(t *testing.T, repo *event.RepositoryStub, calendarId int, sequence int) event.Event {
	t.Helper()
	e, err := event.NewEvent(testAccount.NamespaceId, calendarId, event.Details{
		Uid:            "local-uid",
		SequenceNumber: sequence,
		Title:          "Planning",
		Start:          start,
		End:            start.Add(time.Hour),
		Status:         event.StatusConfirmed,
		Participants: []event.Participant{
			{Email: "bob@example.com", Status: event.ParticipantNoReply, Notes: "Guests: 1"},
			{Email: "carol@example.com", Status: event.ParticipantNoReply},
		},
	})
	require.NoError(t, err)
	stored, err := repo.Upsert(context.Background(), e)
	require.NoError(t, err)
	return stored
}

func TestReconcileInvites(t *testing.T) {
	ctx := context.Background()

	t.Run("should stage a first-seen uid in the inbound calendar", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)

		// when
		outcome, err := service.ReconcileInvites(ctx, testAccount, 7, []ics.ParsedEvent{invite("uid-1", 0, "Planning")})

		// then
		require.NoError(t, err)
		assert.Equal(t, InviteOutcome{Created: 1}, outcome)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "uid-1", events[0].Uid)
		assert.Equal(t, inboundCalendarId, events[0].CalendarId)
		assert.Equal(t, int64(7), events[0].MessageId)
		assert.NotEmpty(t, events[0].PublicId)
		assert.Equal(t, event.KindPlain, events[0].Kind.Name())
	})

	t.Run("should never regress to a lower sequence number", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		_, err := service.ReconcileInvites(ctx, testAccount, 1, []ics.ParsedEvent{invite("uid-1", 2, "Second revision")})
		require.NoError(t, err)

		// when
		outcome, err := service.ReconcileInvites(ctx, testAccount, 2, []ics.ParsedEvent{invite("uid-1", 1, "First revision")})

		// then
		require.NoError(t, err)
		assert.Equal(t, InviteOutcome{Stale: 1}, outcome)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, 2, events[0].SequenceNumber)
		assert.Equal(t, "Second revision", events[0].Title)
		assert.Equal(t, int64(1), events[0].MessageId)
	})

	t.Run("should accept a resend with the same sequence number", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		_, err := service.ReconcileInvites(ctx, testAccount, 1, []ics.ParsedEvent{invite("uid-1", 3, "Planning")})
		require.NoError(t, err)

		// when
		outcome, err := service.ReconcileInvites(ctx, testAccount, 2, []ics.ParsedEvent{invite("uid-1", 3, "Planning (room changed)")})

		// then
		require.NoError(t, err)
		assert.Equal(t, InviteOutcome{Updated: 1}, outcome)
		assert.Equal(t, "Planning (room changed)", repo.Events()[0].Title)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		incoming := []ics.ParsedEvent{invite("uid-1", 1, "Planning", event.Participant{Email: "bob@example.com", Status: event.ParticipantYes})}
		_, err := service.ReconcileInvites(ctx, testAccount, 1, incoming)
		require.NoError(t, err)
		once := repo.Events()

		// when
		_, err = service.ReconcileInvites(ctx, testAccount, 1, incoming)

		// then
		require.NoError(t, err)
		assert.Equal(t, once, repo.Events())
	})

	t.Run("should keep participant notes the update omits", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		_, err := service.ReconcileInvites(ctx, testAccount, 1, []ics.ParsedEvent{invite("uid-1", 1, "Planning",
			event.Participant{Email: "a@x.com", Status: event.ParticipantNoReply, Notes: "Guests: 2"},
			event.Participant{Email: "b@x.com", Status: event.ParticipantNoReply},
		)})
		require.NoError(t, err)

		// when
		_, err = service.ReconcileInvites(ctx, testAccount, 2, []ics.ParsedEvent{invite("uid-1", 2, "Planning",
			event.Participant{Email: "A@x.com", Status: event.ParticipantYes},
		)})

		// then
		require.NoError(t, err)
		assert.Equal(t, []event.Participant{
			{Email: "a@x.com", Status: event.ParticipantYes, Notes: "Guests: 2"},
			{Email: "b@x.com", Status: event.ParticipantNoReply},
		}, repo.Events()[0].Participants)
	})

	t.Run("should keep a participant status the update omits", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		parseOpts := ics.ParseOptions{AccountEmail: testAccount.EmailAddress, UidDomain: uidDomain}
		first, err := ics.Parse(payload("REQUEST", "uid-1", 1,
			"ATTENDEE;PARTSTAT=ACCEPTED;X-NUM-GUESTS=2:mailto:a@x.com",
		), parseOpts)
		require.NoError(t, err)
		second, err := ics.Parse(payload("REQUEST", "uid-1", 2,
			"ATTENDEE:mailto:a@x.com",
			"ATTENDEE:mailto:b@x.com",
		), parseOpts)
		require.NoError(t, err)
		_, err = service.ReconcileInvites(ctx, testAccount, 1, first.Invites)
		require.NoError(t, err)

		// when
		_, err = service.ReconcileInvites(ctx, testAccount, 2, second.Invites)

		// then
		require.NoError(t, err)
		assert.Equal(t, []event.Participant{
			{Email: "a@x.com", Status: event.ParticipantYes, Notes: "Guests: 2"},
			{Email: "b@x.com", Status: event.ParticipantNoReply},
		}, repo.Events()[0].Participants)
	})

	t.Run("should store an invite carrying a rule as recurring", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		recurring := invite("uid-1", 0, "Standup")
		recurring.Recurrence = "RRULE:FREQ=DAILY;COUNT=5"

		// when
		_, err := service.ReconcileInvites(ctx, testAccount, 1, []ics.ParsedEvent{recurring})

		// then
		require.NoError(t, err)
		kind, ok := repo.Events()[0].Kind.(event.Recurring)
		require.True(t, ok)
		assert.Equal(t, "RRULE:FREQ=DAILY;COUNT=5", kind.RRule)
	})

	t.Run("should only look for existing events in the inbound calendar", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		other := storedOrganizerEvent(t, repo, organizerCalendarId, 5)

		// when
		outcome, err := service.ReconcileInvites(ctx, testAccount, 1, []ics.ParsedEvent{invite(other.Uid, 1, "Copy")})

		// then
		require.NoError(t, err)
		assert.Equal(t, InviteOutcome{Created: 1}, outcome)
		assert.Len(t, repo.Events(), 2)
	})

	t.Run("should apply several revisions of one uid in order", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)

		// when
		outcome, err := service.ReconcileInvites(ctx, testAccount, 1, []ics.ParsedEvent{
			invite("uid-1", 1, "One"),
			invite("uid-1", 3, "Three"),
			invite("uid-1", 2, "Two"),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, InviteOutcome{Created: 1, Updated: 1, Stale: 1}, outcome)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "Three", events[0].Title)
	})
}

func TestReconcileInvites_Concurrent(t *testing.T) {
	// given
	ctx := context.Background()
	service, repo, _ := setupServiceTest(t)
	var wg sync.WaitGroup

	// when
	for sequence := 0; sequence < 20; sequence++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ReconcileInvites(ctx, testAccount, int64(sequence), []ics.ParsedEvent{
				invite("uid-1", sequence, fmt.Sprintf("Revision %d", sequence)),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// then
	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 19, events[0].SequenceNumber)
	assert.Equal(t, "Revision 19", events[0].Title)
}

func TestReconcileRsvps(t *testing.T) {
	ctx := context.Background()

	reply := func(uid string, sequence int, participants ...event.Participant) ics.ParsedEvent {
		rsvp := invite(uid, sequence, "Planning", participants...)
		rsvp.Intent = ics.IntentRsvp
		return rsvp
	}

	t.Run("should apply a reply to the revision it answers and signal propagation", func(t *testing.T) {
		// given
		service, repo, bus := setupServiceTest(t)
		stored := storedOrganizerEvent(t, repo, organizerCalendarId, 2)
		var published []event_bus.EventParticipantsUpdated
		event_bus.SubscribeTyped(bus, event_bus.ParticipantsUpdated, func(e event_bus.EventT[event_bus.EventParticipantsUpdated]) error {
			published = append(published, e.Data)
			return nil
		})

		// when
		outcome, err := service.ReconcileRsvps(ctx, testAccount, 1, []ics.ParsedEvent{
			reply(strings.ToUpper(stored.PublicId), 2, event.Participant{Email: "bob@example.com", Status: event.ParticipantYes}),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{Accepted: 1}, outcome)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, []event.Participant{
			{Email: "bob@example.com", Status: event.ParticipantYes, Notes: "Guests: 1"},
			{Email: "carol@example.com", Status: event.ParticipantNoReply},
		}, events[0].Participants)
		assert.Equal(t, "Planning", events[0].Title)
		assert.Equal(t, []event.Signal{{EventId: stored.Id, Reason: externalUpdateReason}}, repo.Signals())
		require.Len(t, published, 1)
		assert.Equal(t, stored.PublicId, published[0].PublicId)
		assert.Equal(t, []string{"bob@example.com"}, published[0].Emails)
	})

	t.Run("should record but not apply a reply to another revision", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		stored := storedOrganizerEvent(t, repo, organizerCalendarId, 2)

		// when
		outcome, err := service.ReconcileRsvps(ctx, testAccount, 1, []ics.ParsedEvent{
			reply(stored.PublicId, 1, event.Participant{Email: "bob@example.com", Status: event.ParticipantNo}),
			reply(stored.PublicId, 3, event.Participant{Email: "bob@example.com", Status: event.ParticipantYes}),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{Mismatched: 2}, outcome)
		assert.Equal(t, event.ParticipantNoReply, repo.Events()[0].Participants[0].Status)
		assert.Empty(t, repo.Signals())
	})

	t.Run("should discard replies to events we did not issue", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)

		// when
		outcome, err := service.ReconcileRsvps(ctx, testAccount, 1, []ics.ParsedEvent{
			reply("040000008200E00074C5B7101A82E008@outlook.com", 0),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{Discarded: 1}, outcome)
		assert.Empty(t, repo.Events())
	})

	t.Run("should stage a reply to an unknown event in the inbound calendar", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		publicId := uuid.NewString()

		// when
		outcome, err := service.ReconcileRsvps(ctx, testAccount, 4, []ics.ParsedEvent{
			reply(publicId, 0, event.Participant{Email: "bob@example.com", Status: event.ParticipantMaybe}),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{Staged: 1}, outcome)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, publicId, events[0].Uid)
		assert.Equal(t, inboundCalendarId, events[0].CalendarId)
		assert.Equal(t, int64(4), events[0].MessageId)
		assert.Empty(t, repo.Signals())
	})

	t.Run("should let a later invite land on a staged reply", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		publicId := uuid.NewString()
		_, err := service.ReconcileRsvps(ctx, testAccount, 1, []ics.ParsedEvent{
			reply(publicId, 0, event.Participant{Email: "bob@example.com", Status: event.ParticipantYes}),
		})
		require.NoError(t, err)

		// when
		outcome, err := service.ReconcileInvites(ctx, testAccount, 2, []ics.ParsedEvent{
			invite(publicId, 0, "Planning", event.Participant{Email: "carol@example.com", Status: event.ParticipantNoReply}),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, InviteOutcome{Updated: 1}, outcome)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Len(t, events[0].Participants, 2)
	})

	t.Run("should not match events in the inbound calendar", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		inbound := storedOrganizerEvent(t, repo, inboundCalendarId, 0)

		// when
		outcome, err := service.ReconcileRsvps(ctx, testAccount, 1, []ics.ParsedEvent{
			reply(inbound.PublicId, 0, event.Participant{Email: "bob@example.com", Status: event.ParticipantYes}),
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{Staged: 1}, outcome)
		assert.Empty(t, repo.Signals())
	})
}

func TestImportAttachedEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("should skip a message sent by the account itself", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)

		// when
		report, err := service.ImportAttachedEvents(ctx, testAccount, Message{
			From:        "Me <ME@example.com>",
			Attachments: []Attachment{attachment(payload("REQUEST", "uid-1", 0))},
		})

		// then
		require.NoError(t, err)
		assert.True(t, report.SelfSent)
		assert.Empty(t, repo.Events())
	})

	t.Run("should skip a malformed attachment and keep going", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)

		// when
		report, err := service.ImportAttachedEvents(ctx, testAccount, Message{
			Id:   3,
			From: "alice@example.com",
			Attachments: []Attachment{
				{Filename: "broken.ics", ContentType: "text/calendar", Data: []byte("BEGIN:VCALENDAR\r\nBEGIN:VEV")},
				attachment(payload("REQUEST", "uid-1", 0, "SUMMARY:Planning")),
			},
		})

		// then
		require.NoError(t, err)
		require.Len(t, report.Skipped, 1)
		assert.Equal(t, "broken.ics", report.Skipped[0].Filename)
		assert.Equal(t, ics.MalformedInput.String(), report.Skipped[0].Reason)
		assert.Equal(t, InviteOutcome{Created: 1}, report.Invites)
		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, int64(3), events[0].MessageId)
	})

	t.Run("should report an unresolvable timezone", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		raw := []byte(strings.Join([]string{
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//test//test//EN",
			"METHOD:REQUEST",
			"BEGIN:VEVENT",
			"UID:uid-1",
			"SEQUENCE:0",
			"DTSTAMP:20240101T080000Z",
			"DTSTART;TZID=Olympus Mons Standard Time:20240110T100000",
			"DTEND;TZID=Olympus Mons Standard Time:20240110T110000",
			"END:VEVENT",
			"END:VCALENDAR",
			"",
		}, "\r\n"))

		// when
		report, err := service.ImportAttachedEvents(ctx, testAccount, Message{From: "alice@example.com", Attachments: []Attachment{attachment(raw)}})

		// then
		require.NoError(t, err)
		require.Len(t, report.Skipped, 1)
		assert.Equal(t, ics.UnsupportedTimezoneFormat.String(), report.Skipped[0].Reason)
		assert.Empty(t, repo.Events())
	})

	t.Run("should ignore attachments that are not calendars", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)

		// when
		report, err := service.ImportAttachedEvents(ctx, testAccount, Message{
			From: "alice@example.com",
			Attachments: []Attachment{
				{Filename: "agenda.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
				{Filename: "INVITE.ICS", ContentType: "application/octet-stream", Data: payload("REQUEST", "uid-1", 0)},
			},
		})

		// then
		require.NoError(t, err)
		assert.Empty(t, report.Skipped)
		assert.Equal(t, InviteOutcome{Created: 1}, report.Invites)
		assert.Len(t, repo.Events(), 1)
	})

	t.Run("should reconcile replies to our own invites", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		stored := storedOrganizerEvent(t, repo, organizerCalendarId, 0)

		// when
		report, err := service.ImportAttachedEvents(ctx, testAccount, Message{
			From: "bob@example.com",
			Attachments: []Attachment{attachment(payload("REPLY", stored.PublicId+"@"+uidDomain, 0,
				"ATTENDEE;PARTSTAT=DECLINED:mailto:bob@example.com",
			))},
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{Accepted: 1}, report.Rsvps)
		assert.Equal(t, event.ParticipantNo, repo.Events()[0].Participants[0].Status)
	})

	t.Run("should ignore replies on gmail accounts", func(t *testing.T) {
		// given
		service, repo, _ := setupServiceTest(t)
		stored := storedOrganizerEvent(t, repo, organizerCalendarId, 0)
		gmail := testAccount
		gmail.Provider = account.ProviderGmail

		// when
		report, err := service.ImportAttachedEvents(ctx, gmail, Message{
			From: "bob@example.com",
			Attachments: []Attachment{attachment(payload("REPLY", stored.PublicId+"@"+uidDomain, 0,
				"ATTENDEE;PARTSTAT=DECLINED:mailto:bob@example.com",
			))},
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, RsvpOutcome{}, report.Rsvps)
		assert.Equal(t, event.ParticipantNoReply, repo.Events()[0].Participants[0].Status)
	})

	t.Run("should publish the import report", func(t *testing.T) {
		// given
		service, _, bus := setupServiceTest(t)
		var published []event_bus.AttachmentsImportedReport
		event_bus.SubscribeTyped(bus, event_bus.AttachmentsImported, func(e event_bus.EventT[event_bus.AttachmentsImportedReport]) error {
			published = append(published, e.Data)
			return nil
		})

		// when
		_, err := service.ImportAttachedEvents(ctx, testAccount, Message{
			From: "alice@example.com",
			Attachments: []Attachment{
				attachment(payload("REQUEST", "uid-1", 0)),
				attachment([]byte("garbage")),
			},
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, []event_bus.AttachmentsImportedReport{{AccountId: testAccount.Id, Created: 1, Skipped: 1}}, published)
	})
}

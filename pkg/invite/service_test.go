package invite

import (
	"context"
	"testing"
	"time"

	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uidDomain = "calsync.test"

var (
	now   = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	start = time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)

	testAccount = account.Account{
		Id:                      1,
		NamespaceId:             1,
		EmailAddress:            "me@example.com",
		Name:                    "Me",
		Provider:                account.ProviderImap,
		EmailedEventsCalendarId: 1,
	}
)

func setupServiceTest(t *testing.T) (*ServiceImpl, *event.RepositoryStub, context.Context) {
	repo := event.NewRepositoryStub()
	generator := ics.NewGenerator("-//calsync//test//EN", uidDomain, &utils.MockClock{FixedNow: now})
	return NewService(repo, generator), repo, account.WithAccount(context.Background(), testAccount)
}

// organizedEvent is an event the account created in its own calendar.
func organizedEvent(t *testing.T, repo *event.RepositoryStub, participants ...event.Participant) event.Event {
	t.Helper()
	e, err := event.NewEvent(testAccount.NamespaceId, 2, event.Details{
		SequenceNumber: 1,
		Title:          "Design review",
		Start:          start,
		End:            start.Add(time.Hour),
		Status:         event.StatusConfirmed,
		Busy:           true,
		LastModified:   now,
		Participants:   participants,
	})
	require.NoError(t, err)
	e.Uid = e.PublicId
	stored, err := repo.Upsert(context.Background(), e)
	require.NoError(t, err)
	return stored
}

// receivedEvent is an invite that arrived in the inbound calendar.
func receivedEvent(t *testing.T, repo *event.RepositoryStub) event.Event {
	t.Helper()
	e, err := event.NewEvent(testAccount.NamespaceId, testAccount.EmailedEventsCalendarId, event.Details{
		Uid:            "abc123@google.com",
		SequenceNumber: 3,
		Title:          "Lunch",
		Start:          start,
		End:            start.Add(time.Hour),
		Status:         event.StatusConfirmed,
		LastModified:   now,
		Organizer:      &event.Organizer{Name: "Alice", Email: "alice@example.com"},
		Participants: []event.Participant{
			{Email: "alice@example.com", Status: event.ParticipantYes},
			{Email: "me@example.com", Status: event.ParticipantNoReply, Notes: "Guests: 1"},
		},
	})
	require.NoError(t, err)
	stored, err := repo.Upsert(context.Background(), e)
	require.NoError(t, err)
	return stored
}

func parse(t *testing.T, document ics.Document) ics.Result {
	t.Helper()
	result, err := ics.Parse(document.Body, ics.ParseOptions{AccountEmail: testAccount.EmailAddress, UidDomain: uidDomain})
	require.NoError(t, err)
	return result
}

func TestService_Invite(t *testing.T) {
	bob := event.Participant{Email: "bob@example.com", Name: "Bob", Status: event.ParticipantNoReply}

	t.Run("should generate a request without touching the sequence", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := organizedEvent(t, repo, bob)

		// when
		document, err := service.Invite(ctx, stored.PublicId, ics.InviteRequest)

		// then
		require.NoError(t, err)
		assert.Equal(t, "text/calendar; method=REQUEST", document.ContentType())
		result := parse(t, document)
		require.Len(t, result.Invites, 1)
		assert.Equal(t, stored.PublicId, result.Invites[0].Uid)
		assert.Equal(t, 1, result.Invites[0].SequenceNumber)
		assert.True(t, result.Invites[0].IsOrganizerSelf)
		assert.Equal(t, 1, repo.Events()[0].SequenceNumber)
	})

	t.Run("should bump the sequence of an update", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := organizedEvent(t, repo, bob)

		// when
		first, err := service.Invite(ctx, stored.PublicId, ics.InviteUpdate)
		require.NoError(t, err)
		second, err := service.Invite(ctx, stored.PublicId, ics.InviteUpdate)
		require.NoError(t, err)

		// then
		assert.Equal(t, 2, parse(t, first).Invites[0].SequenceNumber)
		assert.Equal(t, 3, parse(t, second).Invites[0].SequenceNumber)
		assert.Equal(t, 3, repo.Events()[0].SequenceNumber)
	})

	t.Run("should cancel the event", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := organizedEvent(t, repo, bob)

		// when
		document, err := service.Invite(ctx, stored.PublicId, ics.InviteCancel)

		// then
		require.NoError(t, err)
		assert.Equal(t, "CANCEL", document.Method)
		parsed := parse(t, document).Invites[0]
		assert.Equal(t, event.StatusCancelled, parsed.Status)
		assert.Equal(t, 2, parsed.SequenceNumber)
		assert.Equal(t, event.StatusCancelled, repo.Events()[0].Status)
	})

	t.Run("should leave the sequence alone when a participant has no address", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := organizedEvent(t, repo, bob, event.Participant{Name: "Nobody"})

		// when
		_, err := service.Invite(ctx, stored.PublicId, ics.InviteUpdate)

		// then
		kind, ok := ics.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, ics.PreconditionViolation, kind)
		assert.Equal(t, 1, repo.Events()[0].SequenceNumber)
	})

	t.Run("should fail for an unknown event", func(t *testing.T) {
		// given
		service, _, ctx := setupServiceTest(t)

		// when
		_, err := service.Invite(ctx, "missing", ics.InviteRequest)

		// then
		assert.ErrorIs(t, err, event.ErrEventNotFound)
	})

	t.Run("should require an account", func(t *testing.T) {
		// given
		service, _, _ := setupServiceTest(t)

		// when
		_, err := service.Invite(context.Background(), "any", ics.InviteRequest)

		// then
		assert.ErrorIs(t, err, account.ErrNoAccount)
	})
}

func TestService_Rsvp(t *testing.T) {
	t.Run("should reply to the sender and record our status", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := receivedEvent(t, repo)

		// when
		reply, err := service.Rsvp(ctx, stored.PublicId, event.ParticipantYes, "alice@example.com")

		// then
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", reply.To)
		assert.Equal(t, "REPLY", reply.Document.Method)
		result := parse(t, reply.Document)
		require.Len(t, result.Rsvps, 1)
		rsvp := result.Rsvps[0]
		assert.Equal(t, "abc123@google.com", rsvp.Uid)
		assert.Equal(t, 3, rsvp.SequenceNumber)
		require.Len(t, rsvp.Participants, 1)
		assert.Equal(t, "me@example.com", rsvp.Participants[0].Email)
		assert.Equal(t, event.ParticipantYes, rsvp.Participants[0].Status)
		assert.Equal(t, []event.Participant{
			{Email: "alice@example.com", Status: event.ParticipantYes},
			{Email: "me@example.com", Status: event.ParticipantYes, Notes: "Guests: 1"},
		}, repo.Events()[0].Participants)
	})

	t.Run("should reply to the organizer when the sender cannot receive replies", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := receivedEvent(t, repo)

		// when
		reply, err := service.Rsvp(ctx, stored.PublicId, event.ParticipantNo, "calendar-notification@google.com")

		// then
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", reply.To)
	})

	t.Run("should reject an unknown status", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := receivedEvent(t, repo)

		// when
		_, err := service.Rsvp(ctx, stored.PublicId, "perhaps", "alice@example.com")

		// then
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("should not record a status for an event without organizer", func(t *testing.T) {
		// given
		service, repo, ctx := setupServiceTest(t)
		stored := organizedEvent(t, repo)

		// when
		_, err := service.Rsvp(ctx, stored.PublicId, event.ParticipantYes, "")

		// then
		kind, ok := ics.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, ics.PreconditionViolation, kind)
		assert.Empty(t, repo.Events()[0].Participants)
	})
}

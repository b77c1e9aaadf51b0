package reconcile

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klokku/calsync/internal/event_bus"
	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/address"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
	log "github.com/sirupsen/logrus"
)

const externalUpdateReason = "participant status changed by reply"

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is an inbound mail as handed over by the mail-processing loop.
type Message struct {
	Id          int64
	From        string
	Attachments []Attachment
}

type InviteOutcome struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	// Stale counts invites older than the stored revision.
	Stale int `json:"stale"`
}

type RsvpOutcome struct {
	Accepted int `json:"accepted"`
	// Mismatched counts replies issued against another revision.
	Mismatched int `json:"mismatched"`
	Staged     int `json:"staged"`
	// Discarded counts replies whose uid is not one of our public ids.
	Discarded int `json:"discarded"`
}

type SkippedAttachment struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

type ImportReport struct {
	SelfSent bool                `json:"selfSent"`
	Invites  InviteOutcome       `json:"invites"`
	Rsvps    RsvpOutcome         `json:"rsvps"`
	Skipped  []SkippedAttachment `json:"skipped"`
}

type Service interface {
	ReconcileInvites(ctx context.Context, acc account.Account, messageId int64, invites []ics.ParsedEvent) (InviteOutcome, error)
	ReconcileRsvps(ctx context.Context, acc account.Account, messageId int64, rsvps []ics.ParsedEvent) (RsvpOutcome, error)
	ImportAttachedEvents(ctx context.Context, acc account.Account, msg Message) (ImportReport, error)
}

type ServiceImpl struct {
	repo      event.Repository
	bus       *event_bus.EventBus
	uidDomain string
}

func NewService(repo event.Repository, bus *event_bus.EventBus, uidDomain string) *ServiceImpl {
	return &ServiceImpl{
		repo:      repo,
		bus:       bus,
		uidDomain: uidDomain,
	}
}

// ReconcileInvites applies invites to the inbound calendar of acc. A uid seen
// for the first time is staged there; a known one is overwritten unless the
// incoming sequence number is lower than the stored one.
func (s *ServiceImpl) ReconcileInvites(ctx context.Context, acc account.Account, messageId int64, invites []ics.ParsedEvent) (InviteOutcome, error) {
	if len(invites) == 0 {
		return InviteOutcome{}, nil
	}
	uids := make([]string, 0, len(invites))
	for _, invite := range invites {
		uids = append(uids, invite.Uid)
	}

	var outcome InviteOutcome
	err := s.repo.WithTransaction(ctx, func(repo event.Repository) error {
		outcome = InviteOutcome{}
		if err := repo.LockUids(ctx, acc.NamespaceId, uids); err != nil {
			return err
		}
		existing, err := repo.FindByUids(ctx, acc.NamespaceId, event.CalendarFilter{CalendarId: acc.EmailedEventsCalendarId}, uids)
		if err != nil {
			return err
		}
		byUid := make(map[string]event.Event, len(existing))
		for _, e := range existing {
			byUid[e.Uid] = e
		}

		for _, invite := range invites {
			logger := log.WithFields(log.Fields{"account_id": acc.Id, "message_id": messageId, "uid": invite.Uid})
			current, found := byUid[invite.Uid]
			var next event.Event
			switch {
			case !found:
				next, err = event.NewEvent(acc.NamespaceId, acc.EmailedEventsCalendarId, invite.Details)
				outcome.Created++
			case current.SequenceNumber > invite.SequenceNumber:
				logger.Debugf("ignoring invite with sequence %d, stored sequence is %d", invite.SequenceNumber, current.SequenceNumber)
				outcome.Stale++
				continue
			default:
				next, err = current.WithUpdate(invite.Details)
				outcome.Updated++
			}
			if err != nil {
				return fmt.Errorf("failed to reconcile invite %s: %w", invite.Uid, err)
			}
			next.MessageId = messageId
			stored, err := repo.Upsert(ctx, next)
			if err != nil {
				return err
			}
			byUid[stored.Uid] = stored
		}
		return nil
	})
	if err != nil {
		return InviteOutcome{}, err
	}
	return outcome, nil
}

// ReconcileRsvps applies replies to our own events. A reply only lands on the
// revision it was issued against; an event living outside the inbound calendar
// is then signaled for external propagation.
func (s *ServiceImpl) ReconcileRsvps(ctx context.Context, acc account.Account, messageId int64, rsvps []ics.ParsedEvent) (RsvpOutcome, error) {
	var outcome RsvpOutcome
	correlatable := make([]ics.ParsedEvent, 0, len(rsvps))
	publicIds := make([]string, 0, len(rsvps))
	for _, rsvp := range rsvps {
		publicId, ok := correlationId(rsvp.Uid)
		if !ok {
			log.WithFields(log.Fields{"account_id": acc.Id, "uid": rsvp.Uid}).Debug("discarding reply to an event we did not issue")
			outcome.Discarded++
			continue
		}
		rsvp.Uid = publicId
		correlatable = append(correlatable, rsvp)
		publicIds = append(publicIds, publicId)
	}
	if len(correlatable) == 0 {
		return outcome, nil
	}

	var updated []event_bus.EventParticipantsUpdated
	discarded := outcome.Discarded
	err := s.repo.WithTransaction(ctx, func(repo event.Repository) error {
		outcome = RsvpOutcome{Discarded: discarded}
		updated = nil
		if err := repo.LockUids(ctx, acc.NamespaceId, publicIds); err != nil {
			return err
		}
		existing, err := repo.FindByPublicIds(ctx, acc.NamespaceId, event.CalendarFilter{ExcludeCalendarId: acc.EmailedEventsCalendarId}, publicIds)
		if err != nil {
			return err
		}
		byPublicId := make(map[string]event.Event, len(existing))
		for _, e := range existing {
			byPublicId[e.PublicId] = e
		}

		for _, rsvp := range correlatable {
			logger := log.WithFields(log.Fields{"account_id": acc.Id, "message_id": messageId, "uid": rsvp.Uid})
			current, found := byPublicId[rsvp.Uid]
			if !found {
				staged, err := s.stageUnknownRsvp(ctx, repo, acc, messageId, rsvp)
				if err != nil {
					return err
				}
				logger.Infof("staged reply for unknown event as %s", staged.PublicId)
				outcome.Staged++
				continue
			}
			if current.SequenceNumber != rsvp.SequenceNumber {
				logger.Infof("recorded reply for sequence %d, event is at sequence %d", rsvp.SequenceNumber, current.SequenceNumber)
				outcome.Mismatched++
				continue
			}

			stored, err := repo.Upsert(ctx, current.WithParticipants(rsvp.Participants))
			if err != nil {
				return err
			}
			byPublicId[stored.PublicId] = stored
			outcome.Accepted++

			if stored.CalendarId == acc.EmailedEventsCalendarId {
				continue
			}
			if err := repo.SignalExternalUpdate(ctx, stored, externalUpdateReason); err != nil {
				return err
			}
			updated = append(updated, event_bus.EventParticipantsUpdated{
				NamespaceId: stored.NamespaceId,
				EventId:     stored.Id,
				PublicId:    stored.PublicId,
				Uid:         stored.Uid,
				Emails:      emailsOf(rsvp.Participants),
			})
		}
		return nil
	})
	if err != nil {
		return RsvpOutcome{}, err
	}

	for _, payload := range updated {
		if err := s.bus.Publish(s.bus.NewEvent(ctx, event_bus.ParticipantsUpdated, payload)); err != nil {
			log.Errorf("failed to publish participants update of %s: %v", payload.PublicId, err)
		}
	}
	return outcome, nil
}

// stageUnknownRsvp keeps a reply to an event we do not hold yet in the inbound
// calendar, keyed by its uid, so a later invite lands on it.
func (s *ServiceImpl) stageUnknownRsvp(ctx context.Context, repo event.Repository, acc account.Account, messageId int64, rsvp ics.ParsedEvent) (event.Event, error) {
	staged, err := repo.FindByUids(ctx, acc.NamespaceId, event.CalendarFilter{CalendarId: acc.EmailedEventsCalendarId}, []string{rsvp.Uid})
	if err != nil {
		return event.Event{}, err
	}
	var next event.Event
	if len(staged) > 0 {
		next = staged[0].WithParticipants(rsvp.Participants)
	} else {
		next, err = event.NewEvent(acc.NamespaceId, acc.EmailedEventsCalendarId, rsvp.Details)
		if err != nil {
			return event.Event{}, fmt.Errorf("failed to stage reply %s: %w", rsvp.Uid, err)
		}
	}
	next.MessageId = messageId
	return repo.Upsert(ctx, next)
}

// correlationId normalizes a reply uid into one of our public ids. Anything
// that is not a uuid was not issued here.
func correlationId(uid string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(uid))
	if at := strings.Index(id, "@"); at >= 0 {
		id = id[:at]
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func emailsOf(participants []event.Participant) []string {
	emails := make([]string, 0, len(participants))
	for _, p := range participants {
		emails = append(emails, p.Email)
	}
	return emails
}

// ImportAttachedEvents reconciles every calendar attachment of msg. A broken
// attachment is skipped and reported, and the others still proceed. The
// returned error only carries store failures.
func (s *ServiceImpl) ImportAttachedEvents(ctx context.Context, acc account.Account, msg Message) (ImportReport, error) {
	logger := log.WithFields(log.Fields{"account_id": acc.Id, "message_id": msg.Id})
	report := ImportReport{Skipped: []SkippedAttachment{}}
	if address.Equal(msg.From, acc.EmailAddress) {
		logger.Debug("skipping message sent by the account itself")
		report.SelfSent = true
		return report, nil
	}

	var errs []error
	for _, attachment := range msg.Attachments {
		if !isCalendar(attachment) {
			continue
		}
		parsed, err := s.parse(attachment, acc)
		if err != nil {
			skipped := skip(attachment, err)
			logger.WithField("filename", attachment.Filename).Warnf("skipping attachment (%s): %v", skipped.Reason, err)
			report.Skipped = append(report.Skipped, skipped)
			continue
		}

		invites, err := s.ReconcileInvites(ctx, acc, msg.Id, parsed.Invites)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to reconcile invites of %s: %w", attachment.Filename, err))
			continue
		}
		report.Invites.add(invites)

		if len(parsed.Rsvps) == 0 {
			continue
		}
		// Gmail does not reply over mail between its own accounts, so replies
		// seen there are echoes of what Google already applied.
		if acc.Provider == account.ProviderGmail {
			logger.Debugf("ignoring %d replies on a gmail account", len(parsed.Rsvps))
			continue
		}
		rsvps, err := s.ReconcileRsvps(ctx, acc, msg.Id, parsed.Rsvps)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to reconcile replies of %s: %w", attachment.Filename, err))
			continue
		}
		report.Rsvps.add(rsvps)
	}

	err := s.bus.Publish(s.bus.NewEvent(ctx, event_bus.AttachmentsImported, event_bus.AttachmentsImportedReport{
		AccountId: acc.Id,
		Created:   report.Invites.Created,
		Updated:   report.Invites.Updated,
		Stale:     report.Invites.Stale,
		Replies:   report.Rsvps.Accepted,
		Skipped:   len(report.Skipped),
	}))
	if err != nil {
		logger.Errorf("failed to publish import report: %v", err)
	}
	return report, errors.Join(errs...)
}

func (s *ServiceImpl) parse(attachment Attachment, acc account.Account) (result ics.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure parsing %s: %v", attachment.Filename, r)
		}
	}()
	return ics.Parse(attachment.Data, ics.ParseOptions{AccountEmail: acc.EmailAddress, UidDomain: s.uidDomain})
}

func skip(attachment Attachment, err error) SkippedAttachment {
	reason := "unexpected"
	if kind, ok := ics.KindOf(err); ok {
		switch kind {
		case ics.MalformedInput, ics.UnsupportedTimezoneFormat, ics.PreconditionViolation:
			reason = kind.String()
		}
	}
	return SkippedAttachment{Filename: attachment.Filename, Reason: reason, Error: err.Error()}
}

func isCalendar(attachment Attachment) bool {
	if mediaType, _, err := mime.ParseMediaType(attachment.ContentType); err == nil {
		switch mediaType {
		case "text/calendar", "application/ics":
			return true
		}
	}
	return strings.EqualFold(filepath.Ext(attachment.Filename), ".ics")
}

func (o *InviteOutcome) add(other InviteOutcome) {
	o.Created += other.Created
	o.Updated += other.Updated
	o.Stale += other.Stale
}

func (o *RsvpOutcome) add(other RsvpOutcome) {
	o.Accepted += other.Accepted
	o.Mismatched += other.Mismatched
	o.Staged += other.Staged
	o.Discarded += other.Discarded
}

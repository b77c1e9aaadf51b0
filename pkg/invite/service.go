package invite

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidStatus = errors.New("invalid participant status")

// Reply is an RSVP ready to be mailed to To.
type Reply struct {
	Document ics.Document
	To       string
}

type Service interface {
	// Invite generates the invite of the given kind for an event organized by
	// the current account. Updates and cancellations bump the stored sequence
	// number first, so recipients accept the new revision.
	Invite(ctx context.Context, publicId string, kind ics.InviteKind) (ics.Document, error)
	// Rsvp answers an invite received by the current account. sender is the
	// address the invite arrived from.
	Rsvp(ctx context.Context, publicId string, status event.ParticipantStatus, sender string) (Reply, error)
}

type ServiceImpl struct {
	repo      event.Repository
	generator *ics.Generator
}

func NewService(repo event.Repository, generator *ics.Generator) *ServiceImpl {
	return &ServiceImpl{
		repo:      repo,
		generator: generator,
	}
}

func (s *ServiceImpl) Invite(ctx context.Context, publicId string, kind ics.InviteKind) (ics.Document, error) {
	acc, err := account.Current(ctx)
	if err != nil {
		return ics.Document{}, err
	}

	var document ics.Document
	err = s.repo.WithTransaction(ctx, func(repo event.Repository) error {
		if err := repo.LockUids(ctx, acc.NamespaceId, []string{publicId}); err != nil {
			return err
		}
		e, err := repo.GetByPublicId(ctx, acc.NamespaceId, publicId)
		if err != nil {
			return err
		}
		if kind != ics.InviteRequest {
			e.SequenceNumber++
			if kind == ics.InviteCancel {
				e.Status = event.StatusCancelled
			}
			e, err = repo.Upsert(ctx, e)
			if err != nil {
				return err
			}
		}
		// Generation runs inside the transaction so a precondition failure
		// leaves the sequence number untouched.
		document, err = s.generator.Generate(e, acc.AsOrganizer(), kind)
		return err
	})
	if err != nil {
		return ics.Document{}, err
	}
	log.WithFields(log.Fields{"account_id": acc.Id, "public_id": publicId}).Debugf("generated %s invite", kind)
	return document, nil
}

func (s *ServiceImpl) Rsvp(ctx context.Context, publicId string, status event.ParticipantStatus, sender string) (Reply, error) {
	if !slices.Contains(event.ParticipantStatuses, status) {
		return Reply{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	acc, err := account.Current(ctx)
	if err != nil {
		return Reply{}, err
	}

	var reply Reply
	err = s.repo.WithTransaction(ctx, func(repo event.Repository) error {
		if err := repo.LockUids(ctx, acc.NamespaceId, []string{publicId}); err != nil {
			return err
		}
		e, err := repo.GetByPublicId(ctx, acc.NamespaceId, publicId)
		if err != nil {
			return err
		}
		document, err := s.generator.GenerateRsvp(e, acc.AsOrganizer(), status)
		if err != nil {
			return err
		}
		if _, err := repo.Upsert(ctx, e.WithParticipants([]event.Participant{{Email: acc.EmailAddress, Status: status}})); err != nil {
			return err
		}
		reply = Reply{Document: document, To: ics.ReplyTarget(sender, e.Organizer.Email)}
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

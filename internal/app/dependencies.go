package app

import (
	"time"

	"github.com/klokku/calsync/internal/config"
	"github.com/klokku/calsync/internal/event_bus"
	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
	"github.com/klokku/calsync/pkg/invite"
	"github.com/klokku/calsync/pkg/reconcile"
	"github.com/klokku/calsync/pkg/recurrence"
	log "github.com/sirupsen/logrus"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	AccountRepo account.Repository
	EventRepo   event.Repository

	Generator *ics.Generator

	ReconcileService *reconcile.ServiceImpl
	ReconcileHandler *reconcile.Handler

	Expander          *recurrence.Expander
	RecurrenceService *recurrence.ServiceImpl
	RecurrenceHandler *recurrence.Handler

	InviteService *invite.ServiceImpl
	InviteHandler *invite.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(accounts account.Repository, events event.Repository, clock utils.Clock, cfg config.Application) *Dependencies {
	deps := &Dependencies{
		Clock:       clock,
		AccountRepo: accounts,
		EventRepo:   events,
	}

	deps.EventBus = event_bus.NewEventBus(deps.Clock)
	subscribeLogging(deps.EventBus)

	deps.Generator = ics.NewGenerator(cfg.Ics.ProductId, cfg.Ics.UidDomain, deps.Clock)

	deps.ReconcileService = reconcile.NewService(deps.EventRepo, deps.EventBus, cfg.Ics.UidDomain)
	deps.ReconcileHandler = reconcile.NewHandler(deps.ReconcileService)

	horizon := time.Duration(cfg.Expansion.HorizonDays) * 24 * time.Hour
	deps.Expander = recurrence.NewExpander(deps.EventRepo, deps.Clock, horizon, cfg.Expansion.MaxOccurrences)
	deps.RecurrenceService = recurrence.NewService(deps.EventRepo, deps.Expander)
	deps.RecurrenceHandler = recurrence.NewHandler(deps.RecurrenceService)

	deps.InviteService = invite.NewService(deps.EventRepo, deps.Generator)
	deps.InviteHandler = invite.NewHandler(deps.InviteService)

	return deps
}

// subscribeLogging records what the bus carries. The action_log row written
// with every participants update is what the propagation worker consumes.
func subscribeLogging(bus *event_bus.EventBus) {
	event_bus.SubscribeTyped(bus, event_bus.ParticipantsUpdated, func(e event_bus.EventT[event_bus.EventParticipantsUpdated]) error {
		log.WithFields(log.Fields{
			"namespace_id": e.Data.NamespaceId,
			"event_id":     e.Data.EventId,
			"uid":          e.Data.Uid,
		}).Infof("participants of %s updated by %v", e.Data.PublicId, e.Data.Emails)
		return nil
	})
	event_bus.SubscribeTyped(bus, event_bus.AttachmentsImported, func(e event_bus.EventT[event_bus.AttachmentsImportedReport]) error {
		log.WithField("account_id", e.Data.AccountId).Debugf(
			"imported attachments: %d created, %d updated, %d stale, %d replies, %d skipped",
			e.Data.Created, e.Data.Updated, e.Data.Stale, e.Data.Replies, e.Data.Skipped)
		return nil
	})
}

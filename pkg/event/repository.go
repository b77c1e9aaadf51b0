package event

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

var ErrEventNotFound = errors.New("event not found")

// Window bounds a query by event start and end.
type Window struct {
	Start time.Time
	End   time.Time
}

// CalendarFilter restricts a lookup to one calendar, or to every calendar
// except one. Zero values mean no restriction.
type CalendarFilter struct {
	CalendarId        int
	ExcludeCalendarId int
}

func (f CalendarFilter) matches(calendarId int) bool {
	if f.CalendarId != 0 && calendarId != f.CalendarId {
		return false
	}
	if f.ExcludeCalendarId != 0 && calendarId == f.ExcludeCalendarId {
		return false
	}
	return true
}

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	// LockUids serializes read-modify-write of the given uids until the
	// surrounding transaction ends. It must be called inside WithTransaction.
	LockUids(ctx context.Context, namespaceId int, uids []string) error
	FindByUids(ctx context.Context, namespaceId int, filter CalendarFilter, uids []string) ([]Event, error)
	FindByPublicIds(ctx context.Context, namespaceId int, filter CalendarFilter, publicIds []string) ([]Event, error)
	GetByPublicId(ctx context.Context, namespaceId int, publicId string) (Event, error)
	Upsert(ctx context.Context, e Event) (Event, error)
	// GetOverrides returns the persisted overrides of a master event. With a
	// window, only overrides lying entirely inside it are returned.
	GetOverrides(ctx context.Context, namespaceId int, masterUid string, window *Window) ([]Event, error)
	// SignalExternalUpdate records that a change to e must be synced back to its provider.
	SignalExternalUpdate(ctx context.Context, e Event, reason string) error
}

type repositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) getQueryer() interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *repositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	txRepo := &repositoryImpl{db: r.db, tx: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *repositoryImpl) LockUids(ctx context.Context, namespaceId int, uids []string) error {
	if r.tx == nil {
		return errors.New("uid locks require a transaction")
	}
	keys := lockKeys(namespaceId, uids)
	for _, key := range keys {
		if _, err := r.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return fmt.Errorf("failed to lock uid %s: %w", key, err)
		}
	}
	return nil
}

// lockKeys returns deduplicated keys in a fixed order so two transactions
// locking overlapping uid sets cannot deadlock.
func lockKeys(namespaceId int, uids []string) []string {
	keys := make([]string, 0, len(uids))
	for _, uid := range uids {
		keys = append(keys, fmt.Sprintf("%d:%s", namespaceId, uid))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

const selectEvent = `SELECT
		id, public_id, namespace_id, calendar_id, message_id, read_only, source,
		uid, sequence_number, title, description, location,
		start_time, end_time, all_day, original_start_tz,
		status, busy, recurrence,
		organizer_name, organizer_email, is_organizer_self, participants,
		last_modified,
		kind, rrule, exdate, until, start_timezone, master_event_uid, original_start_time
	FROM calendar_event`

func (r *repositoryImpl) FindByUids(ctx context.Context, namespaceId int, filter CalendarFilter, uids []string) ([]Event, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	query := selectEvent + ` WHERE namespace_id = $1 AND uid = ANY($2)
		AND ($3 = 0 OR calendar_id = $3) AND ($4 = 0 OR calendar_id <> $4)
		ORDER BY id`
	return r.queryEvents(ctx, query, namespaceId, uids, filter.CalendarId, filter.ExcludeCalendarId)
}

func (r *repositoryImpl) FindByPublicIds(ctx context.Context, namespaceId int, filter CalendarFilter, publicIds []string) ([]Event, error) {
	if len(publicIds) == 0 {
		return nil, nil
	}
	query := selectEvent + ` WHERE namespace_id = $1 AND public_id = ANY($2)
		AND ($3 = 0 OR calendar_id = $3) AND ($4 = 0 OR calendar_id <> $4)
		ORDER BY id`
	return r.queryEvents(ctx, query, namespaceId, publicIds, filter.CalendarId, filter.ExcludeCalendarId)
}

func (r *repositoryImpl) GetByPublicId(ctx context.Context, namespaceId int, publicId string) (Event, error) {
	events, err := r.queryEvents(ctx, selectEvent+` WHERE namespace_id = $1 AND public_id = $2`, namespaceId, publicId)
	if err != nil {
		return Event{}, err
	}
	if len(events) == 0 {
		return Event{}, ErrEventNotFound
	}
	return events[0], nil
}

func (r *repositoryImpl) GetOverrides(ctx context.Context, namespaceId int, masterUid string, window *Window) ([]Event, error) {
	query := selectEvent + ` WHERE namespace_id = $1 AND kind = $2 AND master_event_uid = $3`
	args := []any{namespaceId, KindOverride, masterUid}
	if window != nil {
		query += ` AND start_time >= $4 AND end_time <= $5`
		args = append(args, window.Start.UTC(), window.End.UTC())
	}
	query += ` ORDER BY start_time`
	return r.queryEvents(ctx, query, args...)
}

func (r *repositoryImpl) Upsert(ctx context.Context, e Event) (Event, error) {
	row := toRow(e)
	if e.Id == 0 {
		query := `INSERT INTO calendar_event (
				public_id, namespace_id, calendar_id, message_id, read_only, source,
				uid, sequence_number, title, description, location,
				start_time, end_time, all_day, original_start_tz,
				status, busy, recurrence,
				organizer_name, organizer_email, is_organizer_self, participants,
				last_modified,
				kind, rrule, exdate, until, start_timezone, master_event_uid, original_start_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
			RETURNING id`
		err := r.getQueryer().QueryRow(ctx, query, row.args()...).Scan(&e.Id)
		if err != nil {
			log.Errorf("failed to insert event %s: %v", e.Uid, err)
			return Event{}, fmt.Errorf("failed to insert event: %w", err)
		}
		return e, nil
	}

	query := `UPDATE calendar_event SET
			public_id = $1, namespace_id = $2, calendar_id = $3, message_id = $4, read_only = $5, source = $6,
			uid = $7, sequence_number = $8, title = $9, description = $10, location = $11,
			start_time = $12, end_time = $13, all_day = $14, original_start_tz = $15,
			status = $16, busy = $17, recurrence = $18,
			organizer_name = $19, organizer_email = $20, is_organizer_self = $21, participants = $22,
			last_modified = $23,
			kind = $24, rrule = $25, exdate = $26, until = $27, start_timezone = $28,
			master_event_uid = $29, original_start_time = $30
		WHERE id = $31 AND namespace_id = $2`
	result, err := r.getQueryer().Exec(ctx, query, append(row.args(), e.Id)...)
	if err != nil {
		log.Errorf("failed to update event %d: %v", e.Id, err)
		return Event{}, fmt.Errorf("failed to update event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return Event{}, ErrEventNotFound
	}
	return e, nil
}

func (r *repositoryImpl) SignalExternalUpdate(ctx context.Context, e Event, reason string) error {
	query := `INSERT INTO action_log (namespace_id, event_id, action, reason) VALUES ($1, $2, $3, $4)`
	_, err := r.getQueryer().Exec(ctx, query, e.NamespaceId, e.Id, "update_event", reason)
	if err != nil {
		return fmt.Errorf("failed to record external update for event %d: %w", e.Id, err)
	}
	return nil
}

func (r *repositoryImpl) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.getQueryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var row eventRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// eventRow is the flat column layout of calendar_event.
type eventRow struct {
	Event
	organizerName     string
	organizerEmail    string
	kind              string
	rrule             string
	exdate            string
	until             *time.Time
	startTimezone     string
	masterUid         string
	originalStartTime *time.Time
}

func toRow(e Event) eventRow {
	row := eventRow{Event: e, kind: KindPlain}
	if e.Organizer != nil {
		row.organizerName = e.Organizer.Name
		row.organizerEmail = e.Organizer.Email
	}
	if row.Participants == nil {
		row.Participants = []Participant{}
	}
	switch k := e.Kind.(type) {
	case Recurring:
		row.kind = KindRecurring
		row.rrule = k.RRule
		row.exdate = k.ExDate
		row.until = k.Until
		row.startTimezone = k.StartTimezone
	case Override:
		row.kind = KindOverride
		row.masterUid = k.MasterUid
		originalStart := k.OriginalStart.UTC()
		row.originalStartTime = &originalStart
	}
	return row
}

func (row *eventRow) args() []any {
	return []any{
		row.PublicId, row.NamespaceId, row.CalendarId, row.MessageId, row.ReadOnly, string(row.Source),
		row.Uid, row.SequenceNumber, row.Title, row.Description, row.Location,
		row.Start.UTC(), row.End.UTC(), row.AllDay, row.OriginalStartTimezone,
		string(row.Status), row.Busy, row.Recurrence,
		row.organizerName, row.organizerEmail, row.IsOrganizerSelf, row.Participants,
		row.LastModified.UTC(),
		row.kind, row.rrule, row.exdate, row.until, row.startTimezone, row.masterUid, row.originalStartTime,
	}
}

func (row *eventRow) dest() []any {
	return []any{
		&row.Id, &row.PublicId, &row.NamespaceId, &row.CalendarId, &row.MessageId, &row.ReadOnly, &row.Source,
		&row.Uid, &row.SequenceNumber, &row.Title, &row.Description, &row.Location,
		&row.Start, &row.End, &row.AllDay, &row.OriginalStartTimezone,
		&row.Status, &row.Busy, &row.Recurrence,
		&row.organizerName, &row.organizerEmail, &row.IsOrganizerSelf, &row.Participants,
		&row.LastModified,
		&row.kind, &row.rrule, &row.exdate, &row.until, &row.startTimezone, &row.masterUid, &row.originalStartTime,
	}
}

func (row *eventRow) toEvent() (Event, error) {
	e := row.Event
	e.Start = e.Start.UTC()
	e.End = e.End.UTC()
	e.LastModified = e.LastModified.UTC()
	if row.organizerEmail != "" {
		e.Organizer = &Organizer{Name: row.organizerName, Email: row.organizerEmail}
	}
	switch row.kind {
	case KindPlain:
		e.Kind = Plain{}
	case KindRecurring:
		recurring := Recurring{RRule: row.rrule, ExDate: row.exdate, StartTimezone: row.startTimezone}
		if row.until != nil {
			until := row.until.UTC()
			recurring.Until = &until
		}
		e.Kind = recurring
	case KindOverride:
		override := Override{MasterUid: row.masterUid}
		if row.originalStartTime != nil {
			override.OriginalStart = row.originalStartTime.UTC()
		}
		e.Kind = override
	default:
		return Event{}, fmt.Errorf("event %d has unknown kind %q", e.Id, row.kind)
	}
	return e, nil
}

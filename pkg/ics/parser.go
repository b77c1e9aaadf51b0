package ics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/klokku/calsync/pkg/address"
	"github.com/klokku/calsync/pkg/event"
	log "github.com/sirupsen/logrus"
)

type Intent string

const (
	IntentInvite  Intent = "invite"
	IntentRsvp    Intent = "rsvp"
	IntentIgnored Intent = "ignored"
)

const (
	methodRequest = "REQUEST"
	methodCancel  = "CANCEL"
	methodReply   = "REPLY"

	paramEmail      = "EMAIL"
	paramNumGuests  = "X-NUM-GUESTS"
	utcLayout       = "20060102T150405Z"
	localLayout     = "20060102T150405"
	dateLayout      = "20060102"
	maxSequence     = math.MaxInt32
	titleSeparator  = " - "
	guestNotePrefix = "Guests: "
)

// ParsedEvent is one VEVENT normalized to UTC, tagged with the intent of
// the calendar that carried it.
type ParsedEvent struct {
	event.Details
	Intent Intent
}

type Result struct {
	Invites []ParsedEvent
	Rsvps   []ParsedEvent
}

type ParseOptions struct {
	// AccountEmail is the address of the account the payload was delivered to.
	AccountEmail string
	// UidDomain is stripped from UIDs ending in "@<UidDomain>" so replies to
	// our own invites correlate with the local event.
	UidDomain string
}

// Parse decodes every VCALENDAR in raw. Any VEVENT that cannot be normalized
// fails the whole payload, so callers never see a partial result.
func Parse(raw []byte, opts ParseOptions) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = recovered(r)
		}
	}()

	calendars, err := decode(raw)
	if err != nil {
		return Result{}, err
	}

	for _, cal := range calendars {
		method := ""
		if p := cal.Props.Get(ical.PropMethod); p != nil {
			method = strings.ToUpper(strings.TrimSpace(p.Value))
		}
		intent := intentFor(method)

		for _, comp := range cal.Children {
			switch comp.Name {
			case ical.CompTimezone:
				if err := checkTimezone(comp); err != nil {
					return Result{}, err
				}
			case ical.CompEvent:
				// Edited instances share the series UID and would overwrite the master.
				if intent == IntentInvite && comp.Props.Get(ical.PropRecurrenceID) != nil {
					if uid := comp.Props.Get(ical.PropUID); uid != nil {
						log.Debugf("Skipping edited instance of series %s", uid.Value)
					}
					continue
				}
				details, err := parseEvent(comp, method, opts)
				if err != nil {
					return Result{}, err
				}
				parsed := ParsedEvent{Details: details, Intent: intent}
				switch intent {
				case IntentInvite:
					result.Invites = append(result.Invites, parsed)
				case IntentRsvp:
					result.Rsvps = append(result.Rsvps, parsed)
				}
			}
		}
	}
	return result, nil
}

func decode(raw []byte) ([]*ical.Calendar, error) {
	decoder := ical.NewDecoder(bytes.NewReader(raw))
	var calendars []*ical.Calendar
	for {
		cal, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &Error{Kind: MalformedInput, Msg: "cannot decode calendar", Err: err}
		}
		calendars = append(calendars, cal)
	}
	if len(calendars) == 0 {
		return nil, malformed("no calendar found")
	}
	return calendars, nil
}

func intentFor(method string) Intent {
	switch method {
	case methodRequest, methodCancel:
		return IntentInvite
	case methodReply:
		return IntentRsvp
	}
	return IntentIgnored
}

// recovered turns a panic from an unexpected field shape into a parse error.
func recovered(r any) *Error {
	return &Error{Kind: MalformedInput, Msg: "unexpected failure decoding calendar", Err: fmt.Errorf("%v", r)}
}

func checkTimezone(comp *ical.Component) error {
	p := comp.Props.Get(ical.PropTimezoneID)
	if p == nil {
		return malformed("VTIMEZONE lacks TZID")
	}
	if _, ok := Resolve(p.Value); !ok {
		return malformed("unknown VTIMEZONE %q", p.Value)
	}
	return nil
}

func parseEvent(comp *ical.Component, calendarMethod string, opts ParseOptions) (event.Details, error) {
	var d event.Details

	uid, err := single(comp, ical.PropUID)
	if err != nil {
		return d, err
	}
	d.Uid = stripUidDomain(strings.TrimSpace(uid.Value), opts.UidDomain)
	if d.Uid == "" {
		return d, malformed("event has an empty UID")
	}

	seq, err := single(comp, ical.PropSequence)
	if err != nil {
		return d, err
	}
	if d.SequenceNumber, err = parseSequence(seq.Value); err != nil {
		return d, err
	}

	startProp, startErr := single(comp, ical.PropDateTimeStart)
	endProp, endErr := single(comp, ical.PropDateTimeEnd)
	if startErr != nil || endErr != nil {
		return d, malformed("Event lacks start and/or end time")
	}
	start, err := parseTime(startProp)
	if err != nil {
		return d, err
	}
	end, err := parseTime(endProp)
	if err != nil {
		return d, err
	}
	if start.date != end.date {
		return d, malformed("event %s mixes date and date-time for start and end", d.Uid)
	}
	d.Start, d.End, d.AllDay = start.t, end.t, start.date
	d.OriginalStartTimezone = start.tz

	if d.LastModified, err = lastModified(comp); err != nil {
		return d, err
	}
	if d.Status, err = status(comp, calendarMethod); err != nil {
		return d, err
	}

	var titles []string
	for _, p := range comp.Props.Values(ical.PropSummary) {
		titles = append(titles, text(&p))
	}
	d.Title = strings.Join(titles, titleSeparator)
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		d.Description = text(p)
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		d.Location = text(p)
	}

	d.Busy = true
	if p := comp.Props.Get(ical.PropTransparency); p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT") {
		d.Busy = false
	}

	if d.Recurrence, err = recurrence(comp); err != nil {
		return d, err
	}

	d.Organizer = organizer(comp)
	d.IsOrganizerSelf = d.Organizer != nil && address.Equal(d.Organizer.Email, opts.AccountEmail)
	d.Participants = participants(comp)
	return d, nil
}

// single returns the only property named name, failing when it is absent or repeated.
func single(comp *ical.Component, name string) (*ical.Prop, error) {
	values := comp.Props.Values(name)
	switch len(values) {
	case 0:
		return nil, malformed("event lacks %s", name)
	case 1:
		return &values[0], nil
	}
	return nil, malformed("event has %d %s properties", len(values), name)
}

func stripUidDomain(uid, domain string) string {
	if domain == "" {
		return uid
	}
	suffix := "@" + domain
	if len(uid) > len(suffix) && strings.EqualFold(uid[len(uid)-len(suffix):], suffix) {
		return uid[:len(uid)-len(suffix)]
	}
	return uid
}

// parseSequence clamps values into [0, MaxInt32] instead of rejecting them,
// since some producers send counters that overflow 32 bits.
func parseSequence(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, &Error{Kind: MalformedInput, Msg: fmt.Sprintf("invalid SEQUENCE %q", value), Err: err}
	}
	if n > maxSequence {
		return maxSequence, nil
	}
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

type timeValue struct {
	t    time.Time
	date bool
	tz   string
}

func parseTime(p *ical.Prop) (timeValue, error) {
	value := strings.TrimSpace(p.Value)
	if strings.EqualFold(p.Params.Get(ical.ParamValue), string(ical.ValueDate)) || len(value) == len(dateLayout) {
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return timeValue{}, &Error{Kind: MalformedInput, Msg: fmt.Sprintf("invalid date %s %q", p.Name, value), Err: err}
		}
		return timeValue{t: t, date: true}, nil
	}
	t, tz, err := parseDateTime(p.Name, value, p.Params.Get(ical.ParamTimezoneID))
	if err != nil {
		return timeValue{}, err
	}
	return timeValue{t: t, tz: tz}, nil
}

// parseDateTime converts a DATE-TIME to UTC, using the UTC marker when present
// and the TZID parameter otherwise.
func parseDateTime(name, value, tzid string) (time.Time, string, error) {
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(utcLayout, value)
		if err != nil {
			return time.Time{}, "", &Error{Kind: MalformedInput, Msg: fmt.Sprintf("invalid %s %q", name, value), Err: err}
		}
		return t, "UTC", nil
	}
	if tzid == "" {
		return time.Time{}, "", unsupported("%s %q has no zone information", name, value)
	}
	loc, iana, ok := loadZone(tzid)
	if !ok {
		return time.Time{}, "", unsupported("cannot resolve TZID %q of %s", tzid, name)
	}
	t, err := time.ParseInLocation(localLayout, value, loc)
	if err != nil {
		return time.Time{}, "", &Error{Kind: MalformedInput, Msg: fmt.Sprintf("invalid %s %q", name, value), Err: err}
	}
	return t.UTC(), iana, nil
}

// lastModified prefers a zoned DTSTAMP and falls back to LAST-MODIFIED, which
// is UTC by definition.
func lastModified(comp *ical.Component) (time.Time, error) {
	if p := comp.Props.Get(ical.PropDateTimeStamp); p != nil {
		value := strings.TrimSpace(p.Value)
		tzid := p.Params.Get(ical.ParamTimezoneID)
		if !strings.HasSuffix(value, "Z") && tzid == "" {
			return time.Time{}, unsupported("DTSTAMP %q has no zone information", value)
		}
		t, _, err := parseDateTime(p.Name, value, tzid)
		return t, err
	}
	if p := comp.Props.Get(ical.PropLastModified); p != nil {
		value := strings.TrimSuffix(strings.TrimSpace(p.Value), "Z")
		t, err := time.Parse(localLayout, value)
		if err != nil {
			return time.Time{}, &Error{Kind: MalformedInput, Msg: fmt.Sprintf("invalid LAST-MODIFIED %q", p.Value), Err: err}
		}
		return t, nil
	}
	return time.Time{}, malformed("event lacks DTSTAMP and LAST-MODIFIED")
}

func status(comp *ical.Component, calendarMethod string) (event.Status, error) {
	if p := comp.Props.Get(ical.PropStatus); p != nil {
		s, err := event.ParseStatus(p.Value)
		if err != nil {
			return "", &Error{Kind: MalformedInput, Msg: "unrecognized STATUS", Err: err}
		}
		return s, nil
	}
	if p := comp.Props.Get(ical.PropMethod); p != nil && strings.EqualFold(strings.TrimSpace(p.Value), methodCancel) {
		return event.StatusCancelled, nil
	}
	if calendarMethod == methodCancel {
		return event.StatusCancelled, nil
	}
	return event.StatusConfirmed, nil
}

// recurrence rebuilds the recurrence text from RRULE and EXDATE, with every
// excluded date-time normalized to UTC.
func recurrence(comp *ical.Component) (string, error) {
	rules := comp.Props.Values(ical.PropRecurrenceRule)
	if len(rules) == 0 {
		return "", nil
	}
	if len(rules) > 1 {
		return "", malformed("event has %d RRULE properties", len(rules))
	}
	lines := []string{"RRULE:" + strings.TrimSpace(rules[0].Value)}

	var times, dates []string
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		for _, value := range strings.Split(p.Value, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			tv, err := parseTime(&ical.Prop{Name: p.Name, Params: p.Params, Value: value})
			if err != nil {
				return "", err
			}
			if tv.date {
				dates = append(dates, tv.t.Format(dateLayout))
			} else {
				times = append(times, tv.t.Format(utcLayout))
			}
		}
	}
	if len(times) > 0 {
		lines = append(lines, "EXDATE:"+strings.Join(times, ","))
	}
	if len(dates) > 0 {
		lines = append(lines, "EXDATE;VALUE=DATE:"+strings.Join(dates, ","))
	}
	return strings.Join(lines, "\n"), nil
}

// organizer returns nil when the event names no organizer.
func organizer(comp *ical.Component) *event.Organizer {
	p := comp.Props.Get(ical.PropOrganizer)
	if p == nil {
		return nil
	}
	email := p.Params.Get(paramEmail)
	if email == "" {
		email = address.StripMailto(p.Value)
	}
	if email == "" {
		return nil
	}
	return &event.Organizer{Name: p.Params.Get(ical.ParamCommonName), Email: email}
}

// participants skips attendees without an address, which cannot be keyed.
// Status stays empty when PARTSTAT is absent so a merge keeps the stored one.
func participants(comp *ical.Component) []event.Participant {
	var result []event.Participant
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		email := address.StripMailto(p.Value)
		if email == "" {
			email = p.Params.Get(paramEmail)
		}
		if email == "" {
			continue
		}
		participant := event.Participant{
			Email: email,
			Name:  p.Params.Get(ical.ParamCommonName),
		}
		if partstat := p.Params.Get(ical.ParamParticipationStatus); partstat != "" {
			participant.Status = StatusFromPartstat(partstat)
		}
		if guests := p.Params.Get(paramNumGuests); guests != "" {
			participant.Notes = guestNotePrefix + guests
		}
		result = append(result, participant)
	}
	return result
}

func text(p *ical.Prop) string {
	if s, err := p.Text(); err == nil {
		return s
	}
	return p.Value
}

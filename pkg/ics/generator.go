package ics

import (
	"fmt"
	"strconv"
	"strings"

	goical "github.com/arran4/golang-ical"
	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/event"
)

type InviteKind string

const (
	InviteRequest InviteKind = "request"
	InviteUpdate  InviteKind = "update"
	InviteCancel  InviteKind = "cancel"
)

func ParseInviteKind(s string) (InviteKind, error) {
	switch kind := InviteKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case InviteRequest, InviteUpdate, InviteCancel:
		return kind, nil
	}
	return "", fmt.Errorf("unknown invite kind %q", s)
}

func (k InviteKind) method() goical.Method {
	if k == InviteCancel {
		return goical.MethodCancel
	}
	return goical.MethodRequest
}

const propAppointmentSequence = "X-MICROSOFT-CDO-APPT-SEQUENCE"

// Document is a serialized calendar ready to be attached to a message.
type Document struct {
	Method string
	Body   []byte
}

func (d Document) ContentType() string {
	return "text/calendar; method=" + d.Method
}

type Generator struct {
	productId string
	uidDomain string
	clock     utils.Clock
}

func NewGenerator(productId, uidDomain string, clock utils.Clock) *Generator {
	return &Generator{productId: productId, uidDomain: uidDomain, clock: clock}
}

// OutboundUid is the UID carried by every revision of an invite for the event
// with the given public id.
func (g *Generator) OutboundUid(publicId string) string {
	if g.uidDomain == "" {
		return publicId
	}
	return publicId + "@" + g.uidDomain
}

// Generate serializes an invite, update or cancellation sent by organizer.
func (g *Generator) Generate(e event.Event, organizer event.Organizer, kind InviteKind) (Document, error) {
	if organizer.Email == "" {
		return Document{}, precondition("event %s has no organizer address", e.PublicId)
	}
	for _, p := range e.Participants {
		if strings.TrimSpace(p.Email) == "" {
			return Document{}, precondition("event %s has a participant without an address", e.PublicId)
		}
	}

	method := kind.method()
	cal := g.newCalendar(method)
	ve := cal.AddEvent(g.OutboundUid(e.PublicId))
	if err := g.writeEvent(ve, e.Details); err != nil {
		return Document{}, err
	}
	if kind == InviteCancel {
		ve.SetStatus(goical.ObjectStatusCancelled)
	}
	ve.SetOrganizer(organizer.Email, nameParams(organizer.Name)...)
	for _, p := range e.Participants {
		addAttendee(ve, p.Email, p.Name, p.Status)
	}
	return Document{Method: string(method), Body: []byte(cal.Serialize(goical.WithNewLineWindows))}, nil
}

// GenerateRsvp serializes a reply from replier to an invite received earlier.
// The UID, organizer and sequence are those of the invite, so the organizer's
// client can correlate the answer.
func (g *Generator) GenerateRsvp(e event.Event, replier event.Organizer, status event.ParticipantStatus) (Document, error) {
	if e.Organizer == nil || e.Organizer.Email == "" {
		return Document{}, precondition("event %s has no organizer to reply to", e.PublicId)
	}
	if replier.Email == "" {
		return Document{}, precondition("replying account has no address")
	}

	cal := g.newCalendar(goical.MethodReply)
	ve := cal.AddEvent(e.Uid)
	if err := g.writeEvent(ve, e.Details); err != nil {
		return Document{}, err
	}
	ve.SetOrganizer(e.Organizer.Email, nameParams(e.Organizer.Name)...)
	addAttendee(ve, replier.Email, replier.Name, status)
	return Document{Method: string(goical.MethodReply), Body: []byte(cal.Serialize(goical.WithNewLineWindows))}, nil
}

func (g *Generator) newCalendar(method goical.Method) *goical.Calendar {
	cal := goical.NewCalendar()
	cal.SetProductId(g.productId)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(method)
	return cal
}

func (g *Generator) writeEvent(ve *goical.VEvent, d event.Details) error {
	now := g.clock.Now()
	ve.SetDtStampTime(now)
	ve.SetCreatedTime(now)
	if d.LastModified.IsZero() {
		ve.SetModifiedAt(now)
	} else {
		ve.SetModifiedAt(d.LastModified)
	}

	if d.AllDay {
		ve.SetAllDayStartAt(d.Start.UTC())
		ve.SetAllDayEndAt(d.End.UTC())
	} else {
		ve.SetStartAt(d.Start)
		ve.SetEndAt(d.End)
	}

	ve.SetSummary(d.Title)
	if d.Description != "" {
		ve.SetDescription(d.Description)
	}
	if d.Location != "" {
		ve.SetLocation(d.Location)
	}

	ve.SetSequence(d.SequenceNumber)
	ve.SetProperty(goical.ComponentProperty(propAppointmentSequence), strconv.Itoa(d.SequenceNumber))
	ve.SetStatus(objectStatus(d.Status))
	if d.Busy {
		ve.SetTimeTransparency(goical.TransparencyOpaque)
	} else {
		ve.SetTimeTransparency(goical.TransparencyTransparent)
	}

	return writeRecurrence(ve, d.Recurrence)
}

func writeRecurrence(ve *goical.VEvent, recurrence string) error {
	for _, line := range strings.Split(recurrence, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		head, value, ok := strings.Cut(line, ":")
		if !ok {
			return precondition("recurrence line %q has no value", line)
		}
		name, params, _ := strings.Cut(head, ";")
		switch strings.ToUpper(name) {
		case "RRULE":
			ve.AddRrule(value)
		case "EXDATE":
			if strings.Contains(strings.ToUpper(params), "VALUE=DATE") {
				ve.AddExdate(value, goical.WithValue(string(goical.ValueDataTypeDate)))
			} else {
				ve.AddExdate(value)
			}
		}
	}
	return nil
}

func objectStatus(s event.Status) goical.ObjectStatus {
	switch s {
	case event.StatusCancelled:
		return goical.ObjectStatusCancelled
	case event.StatusTentative:
		return goical.ObjectStatusTentative
	}
	return goical.ObjectStatusConfirmed
}

func addAttendee(ve *goical.VEvent, email, name string, status event.ParticipantStatus) {
	params := []goical.PropertyParameter{
		goical.CalendarUserTypeIndividual,
		PartstatFromStatus(status),
		goical.ParticipationRoleReqParticipant,
		&goical.KeyValues{Key: string(goical.ParameterRsvp), Value: []string{"TRUE"}},
	}
	ve.AddAttendee(email, append(params, nameParams(name)...)...)
}

func nameParams(name string) []goical.PropertyParameter {
	if name == "" {
		return nil
	}
	return []goical.PropertyParameter{goical.WithCN(name)}
}

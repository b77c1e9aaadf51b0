package recurrence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

var ErrNotRecurring = errors.New("event is not recurring")

// OverrideSource loads the persisted exceptions of a series.
type OverrideSource interface {
	GetOverrides(ctx context.Context, namespaceId int, masterUid string, window *event.Window) ([]event.Event, error)
}

// Occurrence is one instance of a series. An inflated occurrence is computed
// from the rule and has no stored record; an override carries the persisted
// event it came from.
type Occurrence struct {
	event.Details
	Override *event.Event
}

func (o Occurrence) IsOverride() bool {
	return o.Override != nil
}

type Expander struct {
	overrides      OverrideSource
	clock          utils.Clock
	horizon        time.Duration
	maxOccurrences int
}

func NewExpander(overrides OverrideSource, clock utils.Clock, horizon time.Duration, maxOccurrences int) *Expander {
	return &Expander{
		overrides:      overrides,
		clock:          clock,
		horizon:        horizon,
		maxOccurrences: maxOccurrences,
	}
}

// Expand materializes the occurrences of master, merged with its overrides and
// ordered by start. Without a window the series is cut at the look-ahead horizon.
func (x *Expander) Expand(ctx context.Context, master event.Event, window *event.Window) ([]Occurrence, error) {
	recurring, ok := master.Kind.(event.Recurring)
	if !ok {
		return nil, ErrNotRecurring
	}

	lower, upper := x.bounds(master, window)
	starts, err := occurrenceStarts(master, recurring, lower, upper)
	if err != nil {
		return nil, err
	}

	// An override moved out of the window still replaces its original slot,
	// so suppression looks at every override of the series.
	overrides, err := x.overrides.GetOverrides(ctx, master.NamespaceId, master.Uid, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides of %s: %w", master.Uid, err)
	}
	overridden := make(map[string]bool, len(overrides))
	occurrences := make([]Occurrence, 0, len(starts)+len(overrides))
	for i := range overrides {
		o := overrides[i]
		overridden[o.Uid] = true
		if o.Start.Before(lower) || o.Start.After(upper) || (window != nil && o.End.After(upper)) {
			continue
		}
		occurrences = append(occurrences, Occurrence{Details: o.Details, Override: &o})
	}

	duration := master.Duration()
	for _, start := range starts {
		if _, offset := start.Zone(); offset != 0 {
			return nil, fmt.Errorf("occurrence of %s at %s has a non-UTC offset", master.Uid, start)
		}
		start = start.UTC()
		uid := event.OccurrenceUid(master.Uid, start)
		if overridden[uid] {
			continue
		}
		inflated := master.Details
		inflated.Participants = slices.Clone(master.Participants)
		inflated.Recurrence = ""
		inflated.Uid = uid
		inflated.Start = start
		inflated.End = start.Add(duration)
		occurrences = append(occurrences, Occurrence{Details: inflated})
	}

	slices.SortStableFunc(occurrences, func(a, b Occurrence) int { return a.Start.Compare(b.Start) })
	if x.maxOccurrences > 0 && len(occurrences) > x.maxOccurrences {
		log.WithFields(log.Fields{
			"uid":   master.Uid,
			"count": len(occurrences),
		}).Warnf("truncating expansion to %d occurrences", x.maxOccurrences)
		occurrences = occurrences[:x.maxOccurrences]
	}
	return occurrences, nil
}

// bounds is the window when one is given, otherwise the series start up to the
// look-ahead horizon.
func (x *Expander) bounds(master event.Event, window *event.Window) (time.Time, time.Time) {
	if window != nil {
		return window.Start.UTC(), window.End.UTC()
	}
	return master.Start.UTC(), x.clock.Now().UTC().Add(x.horizon)
}

func occurrenceStarts(master event.Event, recurring event.Recurring, lower, upper time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROption(recurring.RuleBody())
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule of %s: %w", master.Uid, err)
	}
	opt.Dtstart = master.Start.UTC()
	if recurring.Until != nil && opt.Until.IsZero() {
		opt.Until = recurring.Until.UTC()
	}
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule of %s: %w", master.Uid, err)
	}

	set := rrule.Set{}
	set.RRule(rule)
	exdates, err := ParseExDates(recurring.ExDate)
	if err != nil {
		return nil, fmt.Errorf("invalid exdate of %s: %w", master.Uid, err)
	}
	for _, exdate := range exdates {
		set.ExDate(exdate)
	}

	if recurring.Until != nil && recurring.Until.Before(upper) {
		upper = recurring.Until.UTC()
	}
	if upper.Before(lower) {
		return nil, nil
	}
	return set.Between(lower, upper, true), nil
}

// ParseExDates reads EXDATE lines such as "EXDATE:20240103T100000Z,..." or
// "EXDATE;VALUE=DATE:20240103". Values without a zone are taken as UTC unless
// a TZID parameter names one, resolved the same way the parser resolves it.
func ParseExDates(text string) ([]time.Time, error) {
	var result []time.Time
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		head, values, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("exdate line %q has no value", line)
		}
		date := false
		loc := time.UTC
		for _, param := range strings.Split(head, ";")[1:] {
			name, value, _ := strings.Cut(param, "=")
			switch strings.ToUpper(name) {
			case "VALUE":
				date = strings.EqualFold(value, "DATE")
			case "TZID":
				zone, ok := ics.Resolve(value)
				if !ok {
					return nil, fmt.Errorf("unknown exdate zone %q", value)
				}
				l, err := time.LoadLocation(zone)
				if err != nil {
					return nil, fmt.Errorf("unknown exdate zone %q: %w", value, err)
				}
				loc = l
			}
		}
		for _, value := range strings.Split(values, ",") {
			t, err := parseExDate(strings.TrimSpace(value), date, loc)
			if err != nil {
				return nil, err
			}
			result = append(result, t)
		}
	}
	return result, nil
}

func parseExDate(value string, date bool, loc *time.Location) (time.Time, error) {
	switch {
	case date || len(value) == len("20060102"):
		return time.Parse("20060102", value)
	case strings.HasSuffix(value, "Z"):
		return time.Parse("20060102T150405Z", value)
	}
	t, err := time.ParseInLocation("20060102T150405", value, loc)
	return t.UTC(), err
}

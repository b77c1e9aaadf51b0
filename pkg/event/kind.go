package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	KindPlain     = "plain"
	KindRecurring = "recurring"
	KindOverride  = "override"
)

// Kind tags the variant of a stored event. Occurrences inflated from a
// recurrence rule are not a Kind: they never become an Event and so can never
// reach the store.
type Kind interface {
	Name() string
}

type Plain struct{}

func (Plain) Name() string { return KindPlain }

// Recurring is a master event whose occurrences come from its rule.
type Recurring struct {
	RRule  string
	ExDate string
	// Until is the rule's UNTIL clause in UTC, nil for unbounded rules.
	Until         *time.Time
	StartTimezone string
}

func (Recurring) Name() string { return KindRecurring }

// Override is a persisted exception to a single occurrence of a master event.
type Override struct {
	MasterUid     string
	OriginalStart time.Time
}

func (Override) Name() string { return KindOverride }

// OccurrenceUid names the occurrence of master starting at originalStart. An
// override of that occurrence carries the same uid, even after its start moves.
func OccurrenceUid(masterUid string, originalStart time.Time) string {
	return masterUid + "_" + originalStart.UTC().Format("20060102T150405Z")
}

// UnwrapRecurrence splits recurrence text (RRULE and optional EXDATE lines)
// into the Recurring variant.
func UnwrapRecurrence(recurrence string, startTimezone string) (Recurring, error) {
	r := Recurring{StartTimezone: startTimezone}
	for _, line := range strings.FieldsFunc(recurrence, func(c rune) bool { return c == '\n' || c == '\r' }) {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RRULE"):
			r.RRule = line
			opt, err := rrule.StrToROption(ruleBody(line))
			if err != nil {
				return Recurring{}, fmt.Errorf("invalid recurrence rule %q: %w", line, err)
			}
			if !opt.Until.IsZero() {
				until := opt.Until.UTC()
				r.Until = &until
			}
		case strings.HasPrefix(upper, "EXDATE"):
			if r.ExDate != "" {
				r.ExDate += "\n"
			}
			r.ExDate += line
		}
	}
	if r.RRule == "" {
		return Recurring{}, fmt.Errorf("recurrence %q has no RRULE", recurrence)
	}
	return r, nil
}

// ruleBody strips the "RRULE:" property name so only the rule parts remain.
func ruleBody(line string) string {
	if i := strings.Index(line, ":"); i >= 0 && strings.EqualFold(strings.TrimSpace(line[:i]), "RRULE") {
		return line[i+1:]
	}
	return line
}

// RuleBody returns the rule parts of an RRULE line.
func (r Recurring) RuleBody() string {
	return ruleBody(r.RRule)
}

// kindFor derives the variant an event should have once details are applied.
// Overrides stay overrides; everything else follows the recurrence text.
func kindFor(current Kind, details Details) (Kind, error) {
	if o, ok := current.(Override); ok {
		return o, nil
	}
	if details.Recurrence == "" {
		return Plain{}, nil
	}
	return UnwrapRecurrence(details.Recurrence, details.OriginalStartTimezone)
}

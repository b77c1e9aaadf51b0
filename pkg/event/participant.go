package event

import "github.com/klokku/calsync/pkg/address"

type ParticipantStatus string

const (
	ParticipantNoReply ParticipantStatus = "noreply"
	ParticipantYes     ParticipantStatus = "yes"
	ParticipantNo      ParticipantStatus = "no"
	ParticipantMaybe   ParticipantStatus = "maybe"
)

// ParticipantStatuses lists every status, in declaration order.
var ParticipantStatuses = []ParticipantStatus{ParticipantNoReply, ParticipantYes, ParticipantNo, ParticipantMaybe}

type Participant struct {
	Email  string            `json:"email"`
	Name   string            `json:"name,omitempty"`
	Status ParticipantStatus `json:"status"`
	Notes  string            `json:"notes,omitempty"`
}

// MergeParticipants folds incoming participants into existing ones keyed by
// canonical email. Fields the incoming entry leaves empty keep their existing
// value, and participants missing from incoming are retained. A participant
// first seen without a status starts as noreply.
func MergeParticipants(existing, incoming []Participant) []Participant {
	merged := make([]Participant, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, p := range existing {
		key := address.Canonicalize(p.Email)
		if i, ok := index[key]; ok {
			merged[i] = merged[i].overlay(p)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, p.withDefaultStatus())
	}
	for _, p := range incoming {
		key := address.Canonicalize(p.Email)
		if i, ok := index[key]; ok {
			merged[i] = merged[i].overlay(p)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, p.withDefaultStatus())
	}
	return merged
}

func (p Participant) overlay(update Participant) Participant {
	if update.Name != "" {
		p.Name = update.Name
	}
	if update.Status != "" {
		p.Status = update.Status
	}
	if update.Notes != "" {
		p.Notes = update.Notes
	}
	return p
}

func (p Participant) withDefaultStatus() Participant {
	if p.Status == "" {
		p.Status = ParticipantNoReply
	}
	return p
}

package recurrence

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	rest "github.com/klokku/calsync/internal/rest"
	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
)

type OccurrenceDTO struct {
	Uid          string              `json:"uid"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	Location     string              `json:"location,omitempty"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	AllDay       bool                `json:"allDay"`
	Status       string              `json:"status"`
	Busy         bool                `json:"busy"`
	Participants []event.Participant `json:"participants"`
	Override     bool                `json:"override"`
	PublicId     string              `json:"publicId,omitempty"`
}

func occurrenceToDTO(o Occurrence) OccurrenceDTO {
	dto := OccurrenceDTO{
		Uid:          o.Uid,
		Title:        o.Title,
		Description:  o.Description,
		Location:     o.Location,
		Start:        o.Start,
		End:          o.End,
		AllDay:       o.AllDay,
		Status:       string(o.Status),
		Busy:         o.Busy,
		Participants: o.Participants,
		Override:     o.IsOverride(),
	}
	if dto.Participants == nil {
		dto.Participants = []event.Participant{}
	}
	if o.Override != nil {
		dto.PublicId = o.Override.PublicId
	}
	return dto
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

// GetOccurrences godoc
// @Summary Expand a recurring event
// @Description Materialize the occurrences of a recurring event, merged with its overrides. Without a window the series is cut at the configured horizon.
// @Tags Recurrence
// @Produce json
// @Param publicId path string true "Public id of the recurring event"
// @Param from query string false "Window start in RFC3339 format"
// @Param to query string false "Window end in RFC3339 format"
// @Success 200 {array} OccurrenceDTO
// @Failure 400 {object} rest.ErrorResponse "Invalid window"
// @Failure 403 {string} string "Account not found"
// @Failure 404 {string} string "Event Not Found"
// @Failure 422 {object} rest.ErrorResponse "Event is not recurring"
// @Router /api/event/{publicId}/occurrences [get]
// @Security XAccountId
func (h *Handler) GetOccurrences(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	publicId := mux.Vars(r)["publicId"]

	window, err := parseWindow(r)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid window", err.Error())
		return
	}

	occurrences, err := h.service.Occurrences(r.Context(), publicId, window)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrNoAccount):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, event.ErrEventNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrNotRecurring):
			rest.WriteError(w, http.StatusUnprocessableEntity, "Event is not recurring", publicId)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	result := make([]OccurrenceDTO, 0, len(occurrences))
	for _, o := range occurrences {
		result = append(result, occurrenceToDTO(o))
	}
	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

var errPartialWindow = errors.New("from and to must be given together")

func parseWindow(r *http.Request) (*event.Window, error) {
	fromString := r.URL.Query().Get("from")
	toString := r.URL.Query().Get("to")
	if fromString == "" && toString == "" {
		return nil, nil
	}
	if fromString == "" || toString == "" {
		return nil, errPartialWindow
	}
	from, err := time.Parse(time.RFC3339, fromString)
	if err != nil {
		return nil, err
	}
	to, err := time.Parse(time.RFC3339, toString)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, errors.New("to must not be before from")
	}
	return &event.Window{Start: from, End: to}, nil
}

package invite

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	rest "github.com/klokku/calsync/internal/rest"
	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
	"github.com/klokku/calsync/pkg/ics"
)

const headerReplyTo = "X-Reply-To"

type RsvpRequestDTO struct {
	Status string `json:"status"`
	// Sender is the address the invite arrived from.
	Sender string `json:"sender"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

// GetInvite godoc
// @Summary Generate an invite
// @Description Serialize a request, update or cancellation for an event organized by the current account. Update and cancel bump the event's sequence number.
// @Tags Invite
// @Produce text/calendar
// @Param publicId path string true "Public id of the event"
// @Param kind query string false "request, update or cancel" default(request)
// @Success 200 {string} string "ICS document"
// @Failure 400 {object} rest.ErrorResponse "Invalid kind"
// @Failure 403 {string} string "Account not found"
// @Failure 404 {string} string "Event Not Found"
// @Failure 422 {object} rest.ErrorResponse "Event cannot be serialized"
// @Router /api/event/{publicId}/invite [get]
// @Security XAccountId
func (h *Handler) GetInvite(w http.ResponseWriter, r *http.Request) {
	publicId := mux.Vars(r)["publicId"]
	kind := ics.InviteRequest
	if value := r.URL.Query().Get("kind"); value != "" {
		parsed, err := ics.ParseInviteKind(value)
		if err != nil {
			rest.WriteError(w, http.StatusBadRequest, "Invalid kind", "Kind must be one of request, update, cancel")
			return
		}
		kind = parsed
	}

	document, err := h.service.Invite(r.Context(), publicId, kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeDocument(w, document)
}

// Rsvp godoc
// @Summary Answer an invite
// @Description Serialize a reply of the current account to an invite it received and record its own participation status
// @Tags Invite
// @Accept json
// @Produce text/calendar
// @Param publicId path string true "Public id of the event"
// @Param rsvp body RsvpRequestDTO true "Reply"
// @Success 200 {string} string "ICS document, reply address in the X-Reply-To header"
// @Failure 400 {object} rest.ErrorResponse "Invalid request"
// @Failure 403 {string} string "Account not found"
// @Failure 404 {string} string "Event Not Found"
// @Failure 422 {object} rest.ErrorResponse "Event cannot be answered"
// @Router /api/event/{publicId}/rsvp [post]
// @Security XAccountId
func (h *Handler) Rsvp(w http.ResponseWriter, r *http.Request) {
	publicId := mux.Vars(r)["publicId"]
	var request RsvpRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}

	reply, err := h.service.Rsvp(r.Context(), publicId, event.ParticipantStatus(request.Status), request.Sender)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set(headerReplyTo, reply.To)
	writeDocument(w, reply.Document)
}

func writeDocument(w http.ResponseWriter, document ics.Document) {
	w.Header().Set("Content-Type", document.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(document.Body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, account.ErrNoAccount) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if errors.Is(err, event.ErrEventNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if errors.Is(err, ErrInvalidStatus) {
		rest.WriteError(w, http.StatusBadRequest, "Invalid status", "Status must be one of noreply, yes, no, maybe")
		return
	}
	if kind, ok := ics.KindOf(err); ok && kind == ics.PreconditionViolation {
		rest.WriteError(w, http.StatusUnprocessableEntity, "Event cannot be serialized", err.Error())
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	rest "github.com/klokku/calsync/internal/rest"
	"github.com/klokku/calsync/pkg/account"
)

const (
	headerMessageFrom = "X-Message-From"
	headerMessageId   = "X-Message-Id"
	// Larger payloads are not calendar attachments a mail provider would deliver.
	maxPayloadBytes = 10 << 20
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

// Import godoc
// @Summary Import a calendar attachment
// @Description Reconcile the invites and replies of one ICS payload received by mail for the current account
// @Tags Reconcile
// @Accept text/calendar
// @Produce json
// @Param X-Message-From header string true "Sender of the carrying message"
// @Param X-Message-Id header int false "Id of the carrying message"
// @Param payload body string true "ICS payload"
// @Success 200 {object} ImportReport
// @Failure 400 {object} rest.ErrorResponse "Invalid request"
// @Failure 403 {string} string "Account not found"
// @Router /api/ics/import [post]
// @Security XAccountId
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	acc, err := account.Current(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	from := r.Header.Get(headerMessageFrom)
	if from == "" {
		rest.WriteError(w, http.StatusBadRequest, "Missing sender", headerMessageFrom+" header is required")
		return
	}
	var messageId int64
	if value := r.Header.Get(headerMessageId); value != "" {
		messageId, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			rest.WriteError(w, http.StatusBadRequest, "Invalid message id", headerMessageId+" must be a number")
			return
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rest.WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large", "")
			return
		}
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	report, err := h.service.ImportAttachedEvents(r.Context(), acc, Message{
		Id:   messageId,
		From: from,
		Attachments: []Attachment{{
			Filename:    "invite.ics",
			ContentType: "text/calendar",
			Data:        payload,
		}},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

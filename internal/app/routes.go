package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Inbound mail
	r.HandleFunc("/api/ics/import", deps.ReconcileHandler.Import).Methods("POST")

	// Recurrence
	r.HandleFunc("/api/event/{publicId}/occurrences", deps.RecurrenceHandler.GetOccurrences).Methods("GET")

	// Outbound invites
	r.HandleFunc("/api/event/{publicId}/invite", deps.InviteHandler.GetInvite).Methods("GET")
	r.HandleFunc("/api/event/{publicId}/rsvp", deps.InviteHandler.Rsvp).Methods("POST")
}

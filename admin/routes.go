package admin

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Routes builds the admin router. The websocket endpoint is mounted by the
// caller so both surfaces share one listener.
func (h *Handler) Routes() *mux.Router {
	router := mux.NewRouter()

	// Driver endpoints
	router.HandleFunc("/drivers", h.CreateDriver).Methods("POST")
	router.HandleFunc("/drivers/online", h.ListOnline).Methods("GET")
	router.HandleFunc("/drivers/nearby", h.Nearby).Methods("GET")
	router.HandleFunc("/drivers/{driver_id}", h.GetDriver).Methods("GET")
	router.HandleFunc("/drivers/{driver_id}/online", h.SetOnline).Methods("PUT")

	// Auth
	router.HandleFunc("/login", h.Login).Methods("POST")

	// Bookings
	router.HandleFunc("/bookings/clear", h.ClearBooking).Methods("POST")

	// Debug endpoints
	router.HandleFunc("/debug/sessions", h.DebugSessions).Methods("GET")
	router.HandleFunc("/debug/emit", h.DebugEmit).Methods("POST")

	return router
}

// CORS wraps a handler with permissive CORS for browser clients.
func CORS(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(next)
}

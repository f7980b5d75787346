package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"tableserve/internal/billing"
	"tableserve/internal/cart"
	"tableserve/internal/kitchen"
	"tableserve/internal/notify"
	"tableserve/internal/tables"
	"tableserve/internal/ticket"
)

type Handlers struct {
	carts   *cart.Store
	tickets *ticket.Dispatcher
	tracker *kitchen.Tracker
	bills   *billing.Engine
	tables  *tables.Registry
	feeds   *notify.Hub
	log     *log.Entry
}

func NewHandlers(carts *cart.Store, tickets *ticket.Dispatcher, tracker *kitchen.Tracker,
	bills *billing.Engine, reg *tables.Registry, feeds *notify.Hub, lg *log.Entry) *Handlers {
	return &Handlers{
		carts: carts, tickets: tickets, tracker: tracker,
		bills: bills, tables: reg, feeds: feeds, log: lg,
	}
}

func (h *Handlers) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	staff := api.PathPrefix("/staff").Subrouter()
	staff.HandleFunc("/cart/add-up", h.upsertCartLine).Methods(http.MethodPost)
	staff.HandleFunc("/cart/remove-item", h.removeCartLine).Methods(http.MethodPost)
	staff.HandleFunc("/cart/guests", h.setGuestCount).Methods(http.MethodPost)
	staff.HandleFunc("/cart/clear/{table}", h.clearCart).Methods(http.MethodDelete)
	staff.HandleFunc("/cart/{table}", h.getCart).Methods(http.MethodGet)
	staff.HandleFunc("/bill/generate", h.closeBill).Methods(http.MethodPost)
	staff.HandleFunc("/bill/mark-paid/{number}", h.markBillPaid).Methods(http.MethodPatch)
	staff.HandleFunc("/bill/{number}", h.getBill).Methods(http.MethodGet)
	staff.HandleFunc("/bills", h.listBills).Methods(http.MethodGet)
	staff.HandleFunc("/notifications", h.notifications).Methods(http.MethodGet)
	staff.HandleFunc("/notifications/seen", h.markNotificationsSeen).Methods(http.MethodPost)

	k := api.PathPrefix("/kitchen").Subrouter()
	k.HandleFunc("/send", h.dispatchTicket).Methods(http.MethodPost)
	k.HandleFunc("/orders", h.listTickets).Methods(http.MethodGet)
	k.HandleFunc("/{kot}/prepared", h.markPrepared).Methods(http.MethodPatch)
	k.HandleFunc("/{kot}/prepare-all", h.prepareAll).Methods(http.MethodPatch)
	k.HandleFunc("/{kot}/ready", h.announceReady).Methods(http.MethodPatch)
	k.HandleFunc("/{kot}/state", h.preparationState).Methods(http.MethodGet)
	k.HandleFunc("/{kot}", h.getTicket).Methods(http.MethodGet)

	api.HandleFunc("/tables", h.listTables).Methods(http.MethodGet)

	return h.logMiddleware(r)
}

func (h *Handlers) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.log.WithFields(log.Fields{
			"method":     r.Method,
			"url":        r.URL.Path,
			"remoteAddr": r.RemoteAddr,
		}).Debug("request")
		next.ServeHTTP(w, r)
	})
}

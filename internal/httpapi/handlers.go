package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"tableserve/internal/apperr"
	"tableserve/internal/billing"
)

type upsertLineRequest struct {
	TableName  string `json:"tableName"`
	ItemID     string `json:"itemId"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note"`
	GuestCount *int   `json:"guestCount,omitempty"`
}

func (h *Handlers) upsertCartLine(w http.ResponseWriter, r *http.Request) {
	var req upsertLineRequest
	if !decode(w, r, &req) {
		return
	}
	if req.GuestCount != nil {
		if _, err := h.carts.SetGuestCount(r.Context(), req.TableName, *req.GuestCount); err != nil {
			h.writeError(w, err)
			return
		}
	}
	c, err := h.carts.UpsertLine(r.Context(), req.TableName, req.ItemID, req.Quantity, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type removeLineRequest struct {
	TableName string `json:"tableName"`
	ItemID    string `json:"itemId"`
}

func (h *Handlers) removeCartLine(w http.ResponseWriter, r *http.Request) {
	var req removeLineRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.carts.RemoveLine(r.Context(), req.TableName, req.ItemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c})
}

type guestCountRequest struct {
	TableName  string `json:"tableName"`
	GuestCount int    `json:"guestCount"`
}

func (h *Handlers) setGuestCount(w http.ResponseWriter, r *http.Request) {
	var req guestCountRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.carts.SetGuestCount(r.Context(), req.TableName, req.GuestCount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) getCart(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	c, ok := h.carts.Get(table)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"tableName": table, "lines": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) clearCart(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	if err := h.carts.Clear(r.Context(), table); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tableName": table, "cleared": true})
}

type dispatchRequest struct {
	TableName string `json:"tableName"`
	StaffID   string `json:"staffId"`
}

func (h *Handlers) dispatchTicket(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.tickets.Dispatch(r.Context(), req.TableName, req.StaffID)
	if err != nil {
		if apperr.Is(err, apperr.EmptyDelta) {
			// A no-op notice, not a failure: nothing new since the last send.
			writeJSON(w, http.StatusOK, map[string]any{"notice": "no new items to send"})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) listTickets(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		writeJSON(w, http.StatusOK, h.tickets.List())
		return
	}
	writeJSON(w, http.StatusOK, h.tickets.Active())
}

func (h *Handlers) getTicket(w http.ResponseWriter, r *http.Request) {
	num, ok := kotNumber(w, r)
	if !ok {
		return
	}
	t, err := h.tickets.Get(num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type markPreparedRequest struct {
	Line     int  `json:"line"`
	Prepared bool `json:"prepared"`
}

func (h *Handlers) markPrepared(w http.ResponseWriter, r *http.Request) {
	num, ok := kotNumber(w, r)
	if !ok {
		return
	}
	var req markPreparedRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.tracker.MarkPrepared(r.Context(), num, req.Line, req.Prepared); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kotNumber": num, "line": req.Line, "prepared": req.Prepared})
}

func (h *Handlers) prepareAll(w http.ResponseWriter, r *http.Request) {
	num, ok := kotNumber(w, r)
	if !ok {
		return
	}
	if err := h.tracker.PrepareAll(r.Context(), num); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kotNumber": num})
}

type announceReadyRequest struct {
	Lines []int `json:"lines"`
}

func (h *Handlers) announceReady(w http.ResponseWriter, r *http.Request) {
	num, ok := kotNumber(w, r)
	if !ok {
		return
	}
	var req announceReadyRequest
	if !decode(w, r, &req) {
		return
	}
	var err error
	if req.Lines == nil {
		err = h.tracker.AnnouncePrepared(r.Context(), num)
	} else {
		err = h.tracker.AnnounceReady(r.Context(), num, req.Lines)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	t, err := h.tickets.Get(num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) preparationState(w http.ResponseWriter, r *http.Request) {
	num, ok := kotNumber(w, r)
	if !ok {
		return
	}
	prepared, announced, err := h.tracker.State(num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kotNumber": num,
		"prepared":  emptyIfNil(prepared),
		"announced": emptyIfNil(announced),
	})
}

type closeBillRequest struct {
	TableName         string `json:"tableName"`
	StaffID           string `json:"staffId"`
	PaymentMethod     string `json:"paymentMethod"`
	KeepTableOccupied bool   `json:"keepTableOccupied"`
}

func (h *Handlers) closeBill(w http.ResponseWriter, r *http.Request) {
	var req closeBillRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.bills.CloseBill(r.Context(), req.TableName, req.PaymentMethod, billing.CloseOptions{
		StaffID:           req.StaffID,
		KeepTableOccupied: req.KeepTableOccupied,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": b})
}

type markPaidRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (h *Handlers) markBillPaid(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	var req markPaidRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.bills.MarkPaid(r.Context(), number, req.PaymentMethod)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": b})
}

func (h *Handlers) getBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.bills.Get(mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) listBills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bills.List(r.URL.Query().Get("staff")))
}

func (h *Handlers) listTables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tables.List())
}

// The tables query param scopes the feed to a staff session's tables;
// omitted means everything (kitchen or admin view).
func (h *Handlers) notifications(w http.ResponseWriter, r *http.Request) {
	f := h.feeds.Feed(tableFilter(r)...)
	writeJSON(w, http.StatusOK, map[string]any{
		"unread": f.Unread(),
		"items":  f.Items(),
	})
}

func (h *Handlers) markNotificationsSeen(w http.ResponseWriter, r *http.Request) {
	h.feeds.Feed(tableFilter(r)...).MarkSeen()
	writeJSON(w, http.StatusOK, map[string]any{"unread": 0})
}

func tableFilter(r *http.Request) []string {
	q := r.URL.Query().Get("tables")
	if q == "" {
		return nil
	}
	return strings.Split(q, ",")
}

func kotNumber(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	num, err := strconv.ParseUint(mux.Vars(r)["kot"], 10, 64)
	if err != nil {
		http.Error(w, "invalid ticket number", http.StatusBadRequest)
		return 0, false
	}
	return num, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error kinds to status codes with a short message; the
// full error chain stays in the log only.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	status := http.StatusInternalServerError
	if ok {
		switch kind {
		case apperr.NotFound:
			status = http.StatusNotFound
		case apperr.InvalidState, apperr.AlreadySettled:
			status = http.StatusConflict
		case apperr.EmptyCart, apperr.EmptyDelta:
			status = http.StatusBadRequest
		case apperr.ConcurrencyConflict:
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
		http.Error(w, "internal error", status)
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": string(kind)})
}

func emptyIfNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

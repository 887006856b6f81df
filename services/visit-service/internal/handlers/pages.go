package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

const (
	HeaderManageToken   = "X-Manage-Token"
	HeaderVisitToken    = "X-Visit-Token"
	HeaderVisitDate     = "X-Visit-Date"
	HeaderVisitTime     = "X-Visit-Time"
	HeaderVisitDuration = "X-Visit-Duration"
)

type PageHandler struct {
	engine *booking.Engine
	logger *slog.Logger
}

func NewPageHandler(engine *booking.Engine, logger *slog.Logger) *PageHandler {
	return &PageHandler{engine: engine, logger: logger}
}

// Register mounts every page route on mux.
func (h *PageHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/pages", h.Create)
	mux.HandleFunc("GET /api/v1/pages/{reference}", h.Get)
	mux.HandleFunc("PUT /api/v1/pages/{reference}", h.Update)
	mux.HandleFunc("DELETE /api/v1/pages/{reference}", h.Delete)
	mux.HandleFunc("POST /api/v1/pages/{reference}/rotate", h.Rotate)
	mux.HandleFunc("GET /api/v1/pages/{reference}/manage", h.Manage)
	mux.HandleFunc("GET /api/v1/pages/{reference}/grid", h.Grid)
	mux.HandleFunc("POST /api/v1/pages/{reference}/visits", h.RequestVisit)
	mux.HandleFunc("GET /api/v1/pages/{reference}/visits/mine", h.MyVisit)
	mux.HandleFunc("POST /api/v1/pages/{reference}/visits/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v1/pages/{reference}/slots", h.RequestBlock)
}

type createPageResponse struct {
	Reference   string      `json:"reference"`
	ManageToken string      `json:"manage_token"`
	Page        *model.Page `json:"page"`
}

type pageResponse struct {
	Owner bool        `json:"owner"`
	Page  *model.Page `json:"page"`
}

type rotateRequest struct {
	IncludeSlots bool `json:"include_slots"`
}

type rotateResponse struct {
	ManageToken string `json:"manage_token"`
}

type visitRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
	Name string `json:"name"`
}

type blockRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Duration int    `json:"duration"`
	Type     string `json:"type"`
	Name     string `json:"name"`
}

type cancelRequest struct {
	Date           string `json:"date"`
	Time           string `json:"time"`
	Duration       int    `json:"duration"`
	OwnershipToken string `json:"ownership_token"`
}

type cancelResponse struct {
	Cancelled bool        `json:"cancelled"`
	Slot      *model.Slot `json:"slot,omitempty"`
}

type rejectedResponse struct {
	Error  string         `json:"error"`
	Reason booking.Reason `json:"reason"`
}

func (h *PageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req booking.PageInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	page, token, err := h.engine.CreatePage(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createPageResponse{Reference: page.Reference, ManageToken: token, Page: page})
}

func (h *PageHandler) Get(w http.ResponseWriter, r *http.Request) {
	page, owner, err := h.engine.GetPage(r.Context(), r.PathValue("reference"), manageToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Owner: owner, Page: page})
}

func (h *PageHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req booking.PageInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	page, err := h.engine.UpdatePage(r.Context(), r.PathValue("reference"), manageToken(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Owner: true, Page: page})
}

func (h *PageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeletePage(r.Context(), r.PathValue("reference"), manageToken(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PageHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}
	token, err := h.engine.RotateNonce(r.Context(), r.PathValue("reference"), manageToken(r), req.IncludeSlots)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rotateResponse{ManageToken: token})
}

// Manage accepts the owner link: 204 when the token matches, 403 otherwise.
func (h *PageHandler) Manage(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	ok, err := h.engine.VerifyManageToken(r.Context(), r.PathValue("reference"), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PageHandler) Grid(w http.ResponseWriter, r *http.Request) {
	grid, err := h.engine.Grid(r.Context(), r.PathValue("reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (h *PageHandler) RequestVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, err := timeofday.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	at, err := timeofday.Parse(req.Time)
	if err != nil {
		http.Error(w, "invalid time", http.StatusBadRequest)
		return
	}
	receipt, err := h.engine.RequestVisit(r.Context(), r.PathValue("reference"), date, at, strings.TrimSpace(req.Name))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *PageHandler) RequestBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, err := timeofday.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	at, err := timeofday.Parse(req.Time)
	if err != nil {
		http.Error(w, "invalid time", http.StatusBadRequest)
		return
	}
	receipt, err := h.engine.RequestBlock(r.Context(), r.PathValue("reference"), manageToken(r), booking.BlockRequest{
		Date:     date,
		Time:     at,
		Duration: req.Duration,
		Type:     model.SlotType(req.Type),
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *PageHandler) MyVisit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentity(r.Header.Get(HeaderVisitDate), r.Header.Get(HeaderVisitTime), r.Header.Get(HeaderVisitDuration))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slot, ok, err := h.engine.MyVisit(r.Context(), r.PathValue("reference"), id, r.Header.Get(HeaderVisitToken))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "visit not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (h *PageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := parseIdentity(req.Date, req.Time, strconv.Itoa(req.Duration))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ownership := req.OwnershipToken
	if ownership == "" {
		ownership = r.Header.Get(HeaderVisitToken)
	}
	slot, ok, err := h.engine.Cancel(r.Context(), r.PathValue("reference"), id, booking.Proof{
		ManageToken:    manageToken(r),
		OwnershipToken: ownership,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := cancelResponse{Cancelled: ok}
	if ok {
		resp.Slot = &slot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PageHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if reason, ok := booking.IsRejected(err); ok {
		writeJSON(w, http.StatusConflict, rejectedResponse{Error: "slot not available", Reason: reason})
		return
	}
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "page not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, booking.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrConflict):
		http.Error(w, "page was modified concurrently, try again", http.StatusConflict)
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func manageToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderManageToken))
}

func parseIdentity(date, at, duration string) (model.SlotIdentity, error) {
	d, err := timeofday.ParseDate(date)
	if err != nil {
		return model.SlotIdentity{}, errors.New("invalid date")
	}
	t, err := timeofday.Parse(at)
	if err != nil {
		return model.SlotIdentity{}, errors.New("invalid time")
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(duration))
	if err != nil || minutes <= 0 {
		return model.SlotIdentity{}, errors.New("invalid duration")
	}
	return model.SlotIdentity{Date: d, Time: t, Duration: minutes}, nil
}

// Package handlers exposes the session controller to the local UI over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
	"paykiosk/pkg/session"
)

// Controller is the part of the session controller the API drives
type Controller interface {
	Submit(ctx context.Context, cmd session.Command) error
	View() session.View
	Events() <-chan session.Event
}

// APIHandlers translates control requests into controller commands
type APIHandlers struct {
	ctl    Controller
	logger *zap.Logger
}

// NewAPIHandlers creates the handlers
func NewAPIHandlers(ctl Controller, logger *zap.Logger) *APIHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandlers{ctl: ctl, logger: logger}
}

var errBadRequest = errors.New(errors.ErrTypeValidation, "INVALID_REQUEST", "request body is malformed").
	WithUserMessage("Invalid request")

// CategoryHandler selects a catalog category
func (h *APIHandlers) CategoryHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, errBadRequest.Clone().WithUserMessage("Category name is required"))
		return
	}
	h.submit(w, r, session.CategorySelected{Name: req.Name})
}

// OrderHandler finishes or cancels the basket
func (h *APIHandlers) OrderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind  session.OrderKind            `json:"kind"`
		Lines map[string]models.BasketLine `json:"lines"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Kind != session.OrderFinish && req.Kind != session.OrderCancel {
		writeError(w, errBadRequest.Clone().
			WithUserMessage("Order kind must be finish or cancel").
			WithContext("kind", string(req.Kind)))
		return
	}
	h.submit(w, r, session.OrderAction{Kind: req.Kind, Lines: req.Lines})
}

// CreditHandler changes the balance of the scanned card
func (h *APIHandlers) CreditHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string          `json:"direction"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}

	var dir models.Direction
	switch strings.ToLower(req.Direction) {
	case "increase":
		dir = models.DirectionIncrease
	case "decrease":
		dir = models.DirectionDecrease
	default:
		writeError(w, errBadRequest.Clone().
			WithUserMessage("Direction must be increase or decrease").
			WithContext("direction", req.Direction))
		return
	}
	h.submit(w, r, session.CreditChangeRequested{Direction: dir, Amount: req.Amount})
}

// ChargeBackHandler leaves the charge screen
func (h *APIHandlers) ChargeBackHandler(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, session.ChargeBackRequested{})
}

// PromptHandler answers an open prompt
func (h *APIHandlers) PromptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, errBadRequest.Clone().WithUserMessage("Prompt id is required"))
		return
	}

	var req struct {
		Accepted bool `json:"accepted"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.submit(w, r, session.PromptAnswered{PromptID: id, Accepted: req.Accepted})
}

// submit queues cmd; the outcome arrives later as events
func (h *APIHandlers) submit(w http.ResponseWriter, r *http.Request, cmd session.Command) {
	if err := h.ctl.Submit(r.Context(), cmd); err != nil {
		h.logger.Warn("command not accepted", zap.Error(err))
		if _, ok := errors.As(err); !ok {
			err = errors.Wrap(err, errors.ErrTypeApp, "REQUEST_CANCELLED", "request ended before the command was queued")
		}
		writeJSON(w, http.StatusServiceUnavailable, errors.ToFrontendError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errBadRequest.Clone().WithCause(err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.StatusCode(err), errors.ToFrontendError(err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

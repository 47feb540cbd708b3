package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"paykiosk/pkg/middleware"
	"paykiosk/pkg/session"
)

const (
	defaultEventWait = 25 * time.Second
	maxEventWait     = 60 * time.Second
	maxEventBatch    = 64
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	SharedKey string
	// RatePerSecond and RateBurst limit the whole API; zero disables it
	RatePerSecond float64
	RateBurst     int
}

// NewRouter builds the control API
func NewRouter(h *APIHandlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireKey(opts.SharedKey))
		if opts.RatePerSecond > 0 {
			r.Use(middleware.RateLimit(opts.RatePerSecond, opts.RateBurst))
		}

		r.Post("/login", h.LoginHandler)
		r.Post("/logout", h.LogoutHandler)
		r.Post("/category", h.CategoryHandler)
		r.Post("/order", h.OrderHandler)
		r.Post("/credit", h.CreditHandler)
		r.Post("/charge/back", h.ChargeBackHandler)
		r.Post("/prompts/{id}", h.PromptHandler)
		r.Get("/session", h.SessionHandler)
		r.Get("/events", h.EventsHandler)
	})

	return r
}

// SessionHandler returns the current session projection
func (h *APIHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.View())
}

// EventsHandler waits up to ?wait= for the first pending event, then
// returns it together with whatever else is already queued
func (h *APIHandlers) EventsHandler(w http.ResponseWriter, r *http.Request) {
	wait := defaultEventWait
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			if secs, convErr := strconv.Atoi(v); convErr == nil {
				d, err = time.Duration(secs)*time.Second, nil
			}
		}
		if err != nil || d < 0 {
			writeError(w, errBadRequest.Clone().WithUserMessage("wait must be a duration"))
			return
		}
		wait = d
	}
	if wait > maxEventWait {
		wait = maxEventWait
	}

	events := make([]session.Event, 0, 1)
	source := h.ctl.Events()

	select {
	case ev := <-source:
		events = append(events, ev)
	default:
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case ev := <-source:
			events = append(events, ev)
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}

drain:
	for len(events) > 0 && len(events) < maxEventBatch {
		select {
		case ev := <-source:
			events = append(events, ev)
		default:
			break drain
		}
	}

	if len(events) > 0 {
		h.logger.Debug("events delivered", zap.Int("count", len(events)))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// HealthHandler reports liveness and the current screen
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	v := h.ctl.View()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"screen":        v.Screen,
		"reader_active": v.ReaderActive,
	})
}

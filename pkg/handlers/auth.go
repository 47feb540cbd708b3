package handlers

import (
	"net/http"

	"paykiosk/pkg/session"
)

// LoginHandler submits the operator login form. Credentials are checked
// by the controller; the result arrives as a notice or a screen change.
func (h *APIHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.submit(w, r, session.LoginSubmitted{Email: req.Email, Password: req.Password})
}

// LogoutHandler asks for the logout prompt
func (h *APIHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, session.LogoutRequested{})
}

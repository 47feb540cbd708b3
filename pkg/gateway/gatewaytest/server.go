// Package gatewaytest provides an in-memory implementation of the remote
// payment API for tests and local development.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"paykiosk/pkg/models"
)

// Operator is a login known to the fake server
type Operator struct {
	Password string
	Role     models.Role
	Token    string
}

// Card is an issued card known to the fake server
type Card struct {
	Number  string
	Secret  string
	Slug    string
	Balance decimal.Decimal
}

// Server is a fake remote API backed by maps. APIKey must be set before
// serving; everything else goes through the locked setters.
type Server struct {
	APIKey string

	mu         sync.Mutex
	operators  map[string]Operator
	issuance   map[string]Card // by card UID
	cards      map[string]*Card
	written    map[string]bool
	categories []models.Category
	failures   map[string]int
	statuses   map[string]string
	calls      map[string]int
	requests   map[string][]json.RawMessage
}

// NewServer creates an empty fake API
func NewServer() *Server {
	return &Server{
		operators: make(map[string]Operator),
		issuance:  make(map[string]Card),
		cards:     make(map[string]*Card),
		written:   make(map[string]bool),
		failures:  make(map[string]int),
		statuses:  make(map[string]string),
		calls:     make(map[string]int),
		requests:  make(map[string][]json.RawMessage),
	}
}

// Start serves the fake API on a local httptest server
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.Router())
}

// AddOperator registers a login
func (s *Server) AddOperator(email, password string, role models.Role, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[email] = Operator{Password: password, Role: role, Token: token}
}

// AddIssuance prepares the credential pair handed out for a blank card
func (s *Server) AddIssuance(uid, number, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuance[uid] = Card{Number: number, Secret: secret}
}

// AddCard registers an issued card and its account
func (s *Server) AddCard(number, secret, slug string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[number+"/"+secret] = &Card{Number: number, Secret: secret, Slug: slug, Balance: balance}
}

// SetCategories sets the catalog returned to every operator
func (s *Server) SetCategories(c []models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = c
}

// FailNext makes the next n calls of op answer with HTTP 500
func (s *Server) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// ForceStatus makes op answer with the given body status, e.g. "fail"
func (s *Server) ForceStatus(op, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[op] = status
}

// Calls returns how often op was requested
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of requests of all operations
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// LastRequest returns the last JSON body sent to op
func (s *Server) LastRequest(op string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.requests[op]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Written reports whether ConfirmWrite was received for uid
func (s *Server) Written(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written[uid]
}

// Balance returns the server side balance of an account
func (s *Server) Balance(slug string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.Slug == slug {
			return c.Balance
		}
	}
	return decimal.Zero
}

// Router returns the chi router serving the fake API
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requireAPIKey)

	r.Post("/login", s.op("login", s.handleLogin))

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/account/logout", s.op("logout", s.handleLogout))
		r.Get("/account", s.op("account", s.handleAccount))
		r.Get("/pay-card/info/{uid}", s.op("info", s.handleInfo))
		r.Put("/pay-card/write", s.op("write", s.handleWrite))
		r.Get("/pay-card/read/{number}/{secret}", s.op("read", s.handleRead))
		r.Post("/pay-card/checkout", s.op("checkout", s.handleCheckout))
		r.Put("/pay-card/change-balance", s.op("change-balance", s.handleChangeBalance))
	})

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey != "" && r.Header.Get("X-API-Key") != s.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "fail", "message": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := false
		for _, op := range s.operators {
			if op.Token != "" && op.Token == token {
				ok = true
				break
			}
		}
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "fail", "message": "Unauthenticated."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// op counts the call, records its body and applies injected failures
func (s *Server) op(name string, h func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		s.mu.Lock()
		s.calls[name]++
		if body != nil {
			s.requests[name] = append(s.requests[name], body)
		}
		fail := s.failures[name] > 0
		if fail {
			s.failures[name]--
		}
		s.mu.Unlock()

		if fail {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h(w, r, body)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "fail", "message": "Invalid JSON"})
		return
	}

	s.mu.Lock()
	op, ok := s.operators[req.Email]
	s.mu.Unlock()

	if !ok || op.Password != req.Password {
		writeJSON(w, http.StatusOK, map[string]string{"status": "fail", "message": "Pogrešan email ili lozinka"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"token":         op.Token,
			"user_group_id": int(op.Role),
		},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ []byte) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, _ []byte) {
	s.mu.Lock()
	cats := s.categories
	s.mu.Unlock()
	if cats == nil {
		cats = []models.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   map[string]interface{}{"categories": cats},
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, _ []byte) {
	uid := chi.URLParam(r, "uid")

	s.mu.Lock()
	card, ok := s.issuance[uid]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "fail", "message": "Kartica nije pronađena"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"card_number": card.Number, "cvc_code": card.Secret},
	})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.UUID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "fail", "message": "uuid is required"})
		return
	}

	s.mu.Lock()
	s.written[req.UUID] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, _ []byte) {
	key := chi.URLParam(r, "number") + "/" + chi.URLParam(r, "secret")

	s.mu.Lock()
	card, ok := s.cards[key]
	var data map[string]interface{}
	if ok {
		data = map[string]interface{}{"balance": card.Balance, "slug": card.Slug}
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "fail", "message": "Kartica nije pronađena"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "data": data})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		Slug        string          `json:"slug"`
		TotalAmount decimal.Decimal `json:"totalAmount"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "fail", "message": "Invalid JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if forced := s.statuses["checkout"]; forced != "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": forced, "message": "Porudžbina odbijena"})
		return
	}
	card := s.cardBySlug(req.Slug)
	if card == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "fail", "message": "Nalog nije pronađen"})
		return
	}
	if card.Balance.LessThan(req.TotalAmount) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "fail", "message": "Nedovoljno sredstava"})
		return
	}
	card.Balance = card.Balance.Sub(req.TotalAmount)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "success", "message": "Porudžbina kreirana"})
}

func (s *Server) handleChangeBalance(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		Slug      string          `json:"slug"`
		Operation int             `json:"account_operations"`
		Value     decimal.Decimal `json:"value"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "fail", "message": "Invalid JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if forced := s.statuses["change-balance"]; forced != "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": forced, "message": "Promena odbijena"})
		return
	}
	card := s.cardBySlug(req.Slug)
	if card == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "fail", "message": "Nalog nije pronađen"})
		return
	}

	switch models.Direction(req.Operation) {
	case models.DirectionIncrease:
		card.Balance = card.Balance.Add(req.Value)
	case models.DirectionDecrease:
		if card.Balance.LessThan(req.Value) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "fail", "message": "Nedovoljno sredstava"})
			return
		}
		card.Balance = card.Balance.Sub(req.Value)
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "fail", "message": "Nepoznata operacija"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   map[string]interface{}{"balance": card.Balance},
	})
}

// cardBySlug must be called with s.mu held
func (s *Server) cardBySlug(slug string) *Card {
	for _, c := range s.cards {
		if c.Slug == slug {
			return c
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package session

import (
	"time"

	"github.com/shopspring/decimal"

	"paykiosk/pkg/models"
)

// View is a read-only copy of the controller state for other components
type View struct {
	Screen           models.Screen      `json:"screen"`
	Authenticated    bool               `json:"authenticated"`
	Role             string             `json:"role"`
	Email            string             `json:"email,omitempty"`
	LoggedInAt       *time.Time         `json:"logged_in_at,omitempty"`
	CardID           string             `json:"card_id,omitempty"`
	AccountSlug      string             `json:"account_slug,omitempty"`
	Balance          decimal.Decimal    `json:"balance"`
	PendingScreen    models.Screen      `json:"pending_screen,omitempty"`
	Categories       []models.Category  `json:"categories,omitempty"`
	SelectedCategory string             `json:"selected_category,omitempty"`
	Prompt           *Prompt            `json:"prompt,omitempty"`
	ReaderActive     bool               `json:"reader_active"`
	LastIssued       *models.IssuedCard `json:"last_issued,omitempty"`
}

// View returns the latest published state
func (c *Controller) View() View {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	v := c.view
	v.Categories = copyCategories(v.Categories)
	if v.Prompt != nil {
		p := *v.Prompt
		v.Prompt = &p
	}
	if v.LastIssued != nil {
		card := *v.LastIssued
		v.LastIssued = &card
	}
	return v
}

// publishView copies the loop owned state for readers
func (c *Controller) publishView() {
	s := &c.session
	v := View{
		Screen:           c.screen,
		Authenticated:    s.Authenticated(),
		Role:             s.Role.String(),
		Email:            s.Email,
		CardID:           s.CardID,
		AccountSlug:      s.AccountSlug,
		Balance:          s.Balance,
		PendingScreen:    s.PendingScreen,
		Categories:       copyCategories(s.Categories),
		SelectedCategory: c.category,
		ReaderActive:     c.rstate == readerPolling,
	}
	if !s.LoggedInAt.IsZero() {
		t := s.LoggedInAt
		v.LoggedInAt = &t
	}
	if c.prompt != nil {
		p := c.prompt.Prompt
		v.Prompt = &p
	}
	if c.lastIssued != nil {
		card := *c.lastIssued
		v.LastIssued = &card
	}

	c.viewMu.Lock()
	c.view = v
	c.viewMu.Unlock()
}

func copyCategories(in []models.Category) []models.Category {
	if in == nil {
		return nil
	}
	out := make([]models.Category, len(in))
	for i, cat := range in {
		out[i] = models.Category{
			Name:     cat.Name,
			Products: append([]models.Product(nil), cat.Products...),
		}
	}
	return out
}

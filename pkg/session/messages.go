package session

import (
	"time"

	"github.com/shopspring/decimal"

	"paykiosk/pkg/models"
	"paykiosk/pkg/reader"
)

// Command is an input from the UI collaborator (or the reader) to the
// controller. Commands are only consumed by the controller goroutine.
type Command interface {
	command()
}

// LoginSubmitted carries the login form
type LoginSubmitted struct {
	Email    string
	Password string
}

// CardDetected is a new card in the reader field
type CardDetected struct {
	ID string
}

// CategorySelected is a tap on a catalog category
type CategorySelected struct {
	Name string
}

// OrderKind is the basket action on the catalog screen
type OrderKind string

const (
	OrderFinish OrderKind = "finish"
	OrderCancel OrderKind = "cancel"
)

// OrderAction finishes or cancels the basket. Lines is a snapshot keyed
// by product id.
type OrderAction struct {
	Kind  OrderKind
	Lines map[string]models.BasketLine
}

// CreditChangeRequested adjusts the balance of the scanned card
type CreditChangeRequested struct {
	Direction models.Direction
	Amount    decimal.Decimal
}

// ChargeBackRequested leaves the charge screen
type ChargeBackRequested struct{}

// LogoutRequested asks for the logout prompt
type LogoutRequested struct{}

// PromptAnswered resolves an open prompt
type PromptAnswered struct {
	PromptID string
	Accepted bool
}

func (LoginSubmitted) command()        {}
func (CardDetected) command()          {}
func (CategorySelected) command()      {}
func (OrderAction) command()           {}
func (CreditChangeRequested) command() {}
func (ChargeBackRequested) command()   {}
func (LogoutRequested) command()       {}
func (PromptAnswered) command()        {}

// internal messages

type readerEvent struct {
	event reader.Event
}

type screenTimer struct {
	seq    uint64
	target models.Screen
}

type promptExpired struct {
	id string
}

func (readerEvent) command()   {}
func (screenTimer) command()   {}
func (promptExpired) command() {}

// EventKind classifies outbound events
type EventKind string

const (
	EventScreenChanged    EventKind = "screen_changed"
	EventNotice           EventKind = "notice"
	EventPrompt           EventKind = "prompt"
	EventPromptClosed     EventKind = "prompt_closed"
	EventBasketCleared    EventKind = "basket_cleared"
	EventCategoriesLoaded EventKind = "categories_loaded"
	EventCardIssued       EventKind = "card_issued"
)

// NoticeLevel is the severity of a notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a message for the operator
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// PromptKind identifies what a prompt confirms
type PromptKind string

const (
	PromptOrderConfirm PromptKind = "order_confirm"
	PromptOrderCancel  PromptKind = "order_cancel"
	PromptLogout       PromptKind = "logout"
)

// PromptOutcome is how a prompt was closed
type PromptOutcome string

const (
	PromptAccepted PromptOutcome = "accepted"
	PromptDeclined PromptOutcome = "declined"
	PromptTimedOut PromptOutcome = "timed_out"
)

// Prompt asks the operator for a yes/no decision
type Prompt struct {
	ID        string     `json:"id"`
	Kind      PromptKind `json:"kind"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Event is an outbound notification to the UI collaborator
type Event struct {
	Kind       EventKind          `json:"kind"`
	At         time.Time          `json:"at"`
	Screen     models.Screen      `json:"screen,omitempty"`
	Notice     *Notice            `json:"notice,omitempty"`
	Prompt     *Prompt            `json:"prompt,omitempty"`
	Outcome    PromptOutcome      `json:"outcome,omitempty"`
	Card       *models.IssuedCard `json:"card,omitempty"`
	Categories []models.Category  `json:"categories,omitempty"`
}

package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Screen identifies one of the kiosk's operating states
type Screen string

const (
	ScreenWelcome Screen = "welcome"
	ScreenLogin   Screen = "login"
	ScreenCard    Screen = "card"
	ScreenCatalog Screen = "catalog"
	ScreenCharge  Screen = "charge"
)

// Role is the operator permission level returned by the server at login
type Role int

const (
	RoleNone             Role = 0
	RoleIssuanceOperator Role = 3
	RoleChargeOperator   Role = 4
	RoleCatalogOperator  Role = 5
)

// Valid reports whether the role belongs to the closed set the kiosk supports
func (r Role) Valid() bool {
	switch r {
	case RoleIssuanceOperator, RoleChargeOperator, RoleCatalogOperator:
		return true
	}
	return false
}

// PendingScreen returns the screen an operator advances to after a
// successful card read.
func (r Role) PendingScreen() Screen {
	switch r {
	case RoleCatalogOperator:
		return ScreenCatalog
	case RoleChargeOperator:
		return ScreenCharge
	default:
		return ScreenCard
	}
}

// WritesCards reports whether a scanned card starts the write flow
func (r Role) WritesCards() bool {
	return r == RoleIssuanceOperator
}

// UnmarshalJSON accepts the role id as a number or a quoted number
func (r *Role) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*r = RoleNone
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("role id: %w", err)
	}
	*r = Role(n)
	return nil
}

func (r Role) String() string {
	switch r {
	case RoleIssuanceOperator:
		return "issuance"
	case RoleChargeOperator:
		return "charge"
	case RoleCatalogOperator:
		return "catalog"
	case RoleNone:
		return "none"
	}
	return "unknown"
}

// Session holds everything the kiosk knows about the logged in operator
// and the last scanned card. Only the session controller mutates it.
type Session struct {
	AuthToken     string
	Role          Role
	Email         string
	LoggedInAt    time.Time
	CardID        string
	AccountSlug   string
	Balance       decimal.Decimal
	Categories    []Category
	PendingScreen Screen
}

// Authenticated reports whether a token is held
func (s *Session) Authenticated() bool {
	return s.AuthToken != ""
}

// Reset clears the session back to its logged out state
func (s *Session) Reset() {
	*s = Session{}
}

package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"paykiosk/pkg/models"
)

// Response status values used by the remote API
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// envelope is the common {status, message, data} response body
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// AuthResult is returned by a successful login
type AuthResult struct {
	Token  string      `json:"token"`
	RoleID models.Role `json:"user_group_id"`
}

// IssuanceInfo is the credential pair to write onto a blank card
type IssuanceInfo struct {
	CardNumber string `json:"card_number"`
	Secret     string `json:"cvc_code"`
}

// Credential is the account a card resolves to
type Credential struct {
	Balance decimal.Decimal `json:"balance"`
	Slug    string          `json:"slug"`
}

// StatusResponse is the parsed body of checkout and balance calls. Its
// Status field decides the business outcome, independent of HTTPStatus.
type StatusResponse struct {
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	HTTPStatus int             `json:"-"`
}

// Succeeded reports an explicit success status
func (r *StatusResponse) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Failed reports an explicit fail status
func (r *StatusResponse) Failed() bool {
	return r != nil && r.Status == StatusFail
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type catalogData struct {
	Categories []models.Category `json:"categories"`
}

type confirmWriteRequest struct {
	UUID string `json:"uuid"`
}

type checkoutRequest struct {
	Slug        string      `json:"slug"`
	TotalAmount int64       `json:"totalAmount"`
	Cart        interface{} `json:"cart"`
}

type balanceRequest struct {
	Slug      string           `json:"slug"`
	Operation models.Direction `json:"account_operations"`
	Value     json.Number      `json:"value"`
}

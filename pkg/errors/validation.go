package errors

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationResult holds validation results
type ValidationResult struct {
	IsValid bool
	Errors  []*AppError
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(err *AppError) {
	vr.IsValid = false
	vr.Errors = append(vr.Errors, err)
}

// GetFirstError returns the first error or nil
func (vr *ValidationResult) GetFirstError() *AppError {
	if len(vr.Errors) > 0 {
		return vr.Errors[0]
	}
	return nil
}

// Validator provides validation utilities
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

var cardUIDPattern = regexp.MustCompile(`^([0-9A-F]{2}){4,10}$`)

// ValidateCredentials checks the login form before anything goes to the server
func (v *Validator) ValidateCredentials(email, password string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	// the server owns the login format; only empty fields are caught here
	if strings.TrimSpace(email) == "" || password == "" {
		result.AddError(ErrMissingCredentials.Clone())
	}

	return result
}

// ValidateAmount checks a credit change amount
func (v *Validator) ValidateAmount(amount decimal.Decimal) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if !amount.IsPositive() {
		result.AddError(ErrInvalidAmount.Clone().WithContext("amount", amount.String()))
	}

	return result
}

// ValidateDebit checks that a decrease does not exceed the balance
func (v *Validator) ValidateDebit(amount, balance decimal.Decimal) *ValidationResult {
	result := v.ValidateAmount(amount)
	if !result.IsValid {
		return result
	}

	if amount.GreaterThan(balance) {
		result.AddError(ErrInsufficientBalance.Clone().
			WithUserMessage("Current balance is "+balance.String()+". Cannot decrease credit by "+amount.String()).
			WithContext("amount", amount.String()).
			WithContext("balance", balance.String()))
	}

	return result
}

// ValidatePIN checks the PIN used for the secret cipher
func (v *Validator) ValidatePIN(pin string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if pin == "" {
		result.AddError(ErrEmptyPIN.Clone())
	}

	return result
}

// ValidateCardUID checks a normalized (upper case hex) card identifier
func (v *Validator) ValidateCardUID(uid string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if strings.TrimSpace(uid) == "" {
		result.AddError(New(ErrTypeValidation, "UID_EMPTY", "card identifier cannot be empty").
			WithUserMessage("No card identifier was read"))
		return result
	}

	if !cardUIDPattern.MatchString(uid) {
		result.AddError(New(ErrTypeValidation, "UID_INVALID", "card identifier is not hex").
			WithUserMessage("Unrecognized card").
			WithContext("uid", uid))
	}

	return result
}

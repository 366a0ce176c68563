package zap

import (
	"errors"
	"fmt"
)

// Code classifies why a zap did not settle
type Code string

const (
	CodeUnauthenticated     Code = "unauthenticated"
	CodeSignerDeclined      Code = "signer_declined"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeAuthorNotFound      Code = "author_not_found"
	CodeNoPaymentIdentifier Code = "no_payment_identifier"
	CodeNoPaymentEndpoint   Code = "no_payment_endpoint"
	CodeInvoiceFailed       Code = "invoice_failed"
	CodeConfirmationTimeout Code = "confirmation_timeout"
	CodeAbandoned           Code = "abandoned"
)

var codeMessages = map[Code]string{
	CodeUnauthenticated:     "sign in to send zaps",
	CodeSignerDeclined:      "the zap request was not signed",
	CodeInvalidAmount:       "amount must be a positive number of sats",
	CodeAuthorNotFound:      "could not find the recipient's profile",
	CodeNoPaymentIdentifier: "recipient has no lightning address",
	CodeNoPaymentEndpoint:   "recipient's lightning address could not be resolved",
	CodeInvoiceFailed:       "could not get an invoice from the recipient's wallet",
	CodeConfirmationTimeout: "no zap receipt was observed in time",
	CodeAbandoned:           "zap was cancelled",
}

// SettlementError is the typed outcome of a zap that did not settle
type SettlementError struct {
	Code    Code
	Message string
	Err     error
}

func (e *SettlementError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = codeMessages[e.Code]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Is matches another *SettlementError with the same code
func (e *SettlementError) Is(target error) bool {
	var other *SettlementError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// UserMessage is a human readable reason suitable for display
func (e *SettlementError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return codeMessages[e.Code]
}

func newError(code Code, err error) *SettlementError {
	return &SettlementError{Code: code, Err: err}
}

// Sentinels for errors.Is comparisons
var (
	ErrUnauthenticated     = &SettlementError{Code: CodeUnauthenticated}
	ErrInvalidAmount       = &SettlementError{Code: CodeInvalidAmount}
	ErrAuthorNotFound      = &SettlementError{Code: CodeAuthorNotFound}
	ErrNoPaymentIdentifier = &SettlementError{Code: CodeNoPaymentIdentifier}
	ErrNoPaymentEndpoint   = &SettlementError{Code: CodeNoPaymentEndpoint}
	ErrInvoiceFailed       = &SettlementError{Code: CodeInvoiceFailed}
	ErrConfirmationTimeout = &SettlementError{Code: CodeConfirmationTimeout}
	ErrAbandoned           = &SettlementError{Code: CodeAbandoned}
)

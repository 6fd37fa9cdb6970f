package tokenvault

import (
	"errors"
	"fmt"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/txn"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("tokenvault: not found")
	ErrAlreadyExists = errors.New("tokenvault: already exists")
	ErrInvalidInput  = errors.New("tokenvault: invalid input")

	// Record errors
	ErrAccountNotFound     = errors.New("tokenvault: account not found")
	ErrPlanNotFound        = errors.New("tokenvault: plan not found")
	ErrPlanNotPurchasable  = errors.New("tokenvault: plan is not purchasable")
	ErrPackageNotFound     = errors.New("tokenvault: package not found")
	ErrOrderNotFound       = errors.New("tokenvault: order not found")
	ErrTransactionNotFound = errors.New("tokenvault: transaction not found")
	ErrInvalidCredentials  = errors.New("tokenvault: invalid credentials")

	// Balance errors
	ErrInsufficientTokens   = account.ErrInsufficientTokens
	ErrSubscriptionExpired  = account.ErrSubscriptionExpired
	ErrNoActiveSubscription = account.ErrNoActiveSubscription
	ErrReferralNotFound     = account.ErrReferralNotFound

	// Payment errors
	ErrInvalidSignature      = payment.ErrInvalidSignature
	ErrMalformedPayload      = payment.ErrMalformedPayload
	ErrPaymentProvider       = payment.ErrProvider
	ErrProviderNotFound      = errors.New("tokenvault: payment provider not configured")
	ErrAlreadyProcessed      = errors.New("tokenvault: payment already processed")
	ErrUnknownReference      = errors.New("tokenvault: payment reference does not match any order or transaction")
	ErrReferenceMismatch     = errors.New("tokenvault: payment event does not belong to the referenced record")
	ErrInternalInconsistency = errors.New("tokenvault: internal inconsistency")

	// Store errors
	ErrConcurrentUpdate = errors.New("tokenvault: concurrent update")
	ErrStoreClosed      = errors.New("tokenvault: store is closed")
	ErrMigrationFailed  = errors.New("tokenvault: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tokenvault: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets callers match any validation failure with errors.Is(err, ErrInvalidInput).
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MultiError collects failures from batch jobs.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tokenvault: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tokenvault: %d errors occurred (first: %v)", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors, else nil.
func (e *MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPackageNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsBalanceError returns true for errors caused by the account's balance
// or subscription state rather than by the request itself.
func IsBalanceError(err error) bool {
	return errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrSubscriptionExpired) ||
		errors.Is(err, ErrNoActiveSubscription)
}

// IsRetryable returns true if the operation can be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrPaymentProvider)
}

// isTerminal reports the record-level "already settled" errors.
func isTerminal(err error) bool {
	return errors.Is(err, order.ErrTerminal) || errors.Is(err, txn.ErrTerminal)
}

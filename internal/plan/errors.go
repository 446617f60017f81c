package plan

import (
	"errors"
	"fmt"

	"github.com/cordage-io/cordage/internal/model"
)

// InvariantError reports a violation of a plan integrity invariant detected
// at commit time. These are fatal: the plan cannot guarantee a safe rollback
// once an invariant has been broken, so callers must escalate instead of
// retrying.
type InvariantError struct {
	// Code identifies the violated invariant.
	Code InvariantCode

	// Message is a human-readable description.
	Message string

	// Instance identifies the offending instance, when one exists.
	Instance model.InstanceID
}

// InvariantCode categorizes plan invariant violations.
type InvariantCode string

const (
	// ErrCodePlaceholderEscape indicates a transaction placeholder survived
	// to commit.
	ErrCodePlaceholderEscape InvariantCode = "PLACEHOLDER_ESCAPE"

	// ErrCodeDanglingBinding indicates a requirement or device binding that
	// points at an instance not surviving the commit.
	ErrCodeDanglingBinding InvariantCode = "DANGLING_BINDING"

	// ErrCodeDanglingReference indicates a surviving instance whose
	// connections or children reference a removed instance.
	ErrCodeDanglingReference InvariantCode = "DANGLING_REFERENCE"

	// ErrCodeTxnReused indicates a commit or mutation on an already
	// committed transaction.
	ErrCodeTxnReused InvariantCode = "TXN_REUSED"
)

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Instance != 0 {
		return fmt.Sprintf("%s: %s (instance=%d)", e.Code, e.Message, e.Instance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvariantError reports whether err is a plan invariant violation.
// Uses errors.As to handle wrapped errors.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

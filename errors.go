package portfolio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStalePreview is returned by Confirm when the pending action no longer
	// validates against the current state. The caller must preview again.
	ErrStalePreview    = errors.New("stale preview")
	ErrNoPendingAction = errors.New("no pending action")
	ErrWrongPhase      = errors.New("operation not allowed in the current phase")

	ErrMissingField = errors.New("missing required field")
	ErrUnknownField = errors.New("field not valid for this action")
	ErrInvalidValue = errors.New("invalid field value")
	ErrUnknownKind  = errors.New("unknown action kind")
	ErrMissingQuote = errors.New("missing quote")

	// ErrNotLiquidatable is returned by Liquidate when the loan cannot be liquidated.
	ErrNotLiquidatable = errors.New(MsgNotLiquidatable)
)

// ContractError reports a caller mistake: an incomplete draft, a field that
// does not belong to the action, a value that cannot be parsed.
type ContractError struct {
	Kind  Kind
	Field Field
	Err   error
}

func (e *ContractError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Field))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ContractError) Unwrap() error { return e.Err }

// StalePreviewError carries the validation errors found at commit time.
type StalePreviewError struct {
	Kind   Kind
	Errors []string
}

func (e *StalePreviewError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Kind, ErrStalePreview, strings.Join(e.Errors, "; "))
}

func (e *StalePreviewError) Is(target error) bool { return target == ErrStalePreview }

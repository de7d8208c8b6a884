package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
	"github.com/roach88/pimsync/internal/retry"
	"github.com/roach88/pimsync/internal/store"
)

// ErrPassInProgress is returned by RunPass while another pass is running.
var ErrPassInProgress = errors.New("sync pass already in progress")

// MatchError is a failure confined to one Match.
//
// Every error except FATAL stays with its Match: the pass records it and
// moves on. FATAL errors (the store rejected our credentials) abort the
// pass.
type MatchError struct {
	// Code identifies the error category.
	Code MatchErrorCode

	// Message is a human-readable description.
	Message string

	// Match is the key of the affected Match.
	Match string

	// Action is the action that was being applied.
	Action model.Action

	// Side is the store the failing call went to, if any.
	Side model.Side

	// Err is the underlying error.
	Err error
}

// MatchErrorCode categorizes Match failures.
type MatchErrorCode string

const (
	// ErrCodePayloadTooLarge means the item exceeds the target's payload
	// ceiling. Nothing was written.
	ErrCodePayloadTooLarge MatchErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrCodeTranslationFailed means the recurrence cannot be expressed in
	// the target's native form.
	ErrCodeTranslationFailed MatchErrorCode = "TRANSLATION_FAILED"

	// ErrCodeRetriesExhausted means a retry policy gave up.
	ErrCodeRetriesExhausted MatchErrorCode = "RETRIES_EXHAUSTED"

	// ErrCodeStoreError is any other store failure.
	ErrCodeStoreError MatchErrorCode = "STORE_ERROR"

	// ErrCodeFatal aborts the pass.
	ErrCodeFatal MatchErrorCode = "FATAL"
)

// Error implements the error interface.
func (e *MatchError) Error() string {
	if e.Side != "" {
		return fmt.Sprintf("%s: %s (match=%s, action=%s, side=%s)", e.Code, e.Message, e.Match, e.Action, e.Side)
	}
	return fmt.Sprintf("%s: %s (match=%s, action=%s)", e.Code, e.Message, e.Match, e.Action)
}

// Unwrap returns the underlying error.
func (e *MatchError) Unwrap() error { return e.Err }

func hasCode(err error, code MatchErrorCode) bool {
	var me *MatchError
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsPayloadTooLarge reports whether err is a payload ceiling failure.
func IsPayloadTooLarge(err error) bool { return hasCode(err, ErrCodePayloadTooLarge) }

// IsTranslationFailed reports whether err is a recurrence translation failure.
func IsTranslationFailed(err error) bool { return hasCode(err, ErrCodeTranslationFailed) }

// IsRetriesExhausted reports whether err is a spent retry policy.
func IsRetriesExhausted(err error) bool { return hasCode(err, ErrCodeRetriesExhausted) }

// IsStoreError reports whether err is an unclassified store failure.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStoreError) }

// IsFatal reports whether err must abort the pass.
func IsFatal(err error) bool {
	return hasCode(err, ErrCodeFatal) || errors.Is(err, store.ErrUnauthorized)
}

// classify maps an error from translating or writing one Match to a code.
func classify(err error) MatchErrorCode {
	switch {
	case errors.Is(err, store.ErrUnauthorized):
		return ErrCodeFatal
	case errors.Is(err, store.ErrPayloadTooLarge):
		return ErrCodePayloadTooLarge
	case errors.Is(err, recurrence.ErrUnsupportedRecurrence):
		return ErrCodeTranslationFailed
	case retry.IsExhausted(err):
		return ErrCodeRetriesExhausted
	}
	return ErrCodeStoreError
}

// outcomeFor is the Outcome of a Match that ended with code. Items that
// can never be written are skipped; everything else failed.
func outcomeFor(code MatchErrorCode) Outcome {
	switch code {
	case ErrCodePayloadTooLarge, ErrCodeTranslationFailed:
		return OutcomeSkipped
	}
	return OutcomeFailed
}

// newMatchError wraps err for m. A nil err returns nil.
func newMatchError(m *model.Match, action model.Action, side model.Side, msg string, err error) *MatchError {
	if err == nil {
		return nil
	}
	return &MatchError{
		Code:    classify(err),
		Message: fmt.Sprintf("%s: %v", msg, err),
		Match:   m.Key(),
		Action:  action,
		Side:    side,
		Err:     err,
	}
}

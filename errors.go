package courier

import (
	"errors"
	"fmt"

	"github.com/opd-ai/courier/wire"
)

// Common channel errors
var (
	// ErrMalformed indicates framing, length-ceiling, or deserialization
	// failure on untrusted input. Aliases the wire package sentinel so
	// errors.Is works across layers.
	ErrMalformed = wire.ErrMalformed

	// ErrPrecondition indicates a caller error: inbox already created,
	// missing configuration, non-UTC expiry, empty recipient set
	ErrPrecondition = errors.New("precondition failed")

	// ErrInboxNotCreated indicates a receive/delete before CreateInbox
	ErrInboxNotCreated = fmt.Errorf("%w: inbox not created", ErrPrecondition)

	// ErrInboxAlreadyCreated indicates a second CreateInbox on one endpoint
	ErrInboxAlreadyCreated = fmt.Errorf("%w: inbox already created", ErrPrecondition)

	// ErrExpiryNotUTC indicates an expiry timestamp outside UTC
	ErrExpiryNotUTC = fmt.Errorf("%w: expiry must be UTC", ErrPrecondition)

	// ErrNoRecipients indicates a post with an empty recipient set
	ErrNoRecipients = fmt.Errorf("%w: empty recipient set", ErrPrecondition)
)

// InvalidMessageSubcode classifies why an inbound message was rejected.
type InvalidMessageSubcode int

const (
	// SubcodeUnspecified covers malformed or undecryptable content
	SubcodeUnspecified InvalidMessageSubcode = iota
	// SubcodeBadSignature indicates the notification signature failed
	SubcodeBadSignature
	// SubcodeMisdirected indicates a recipient-binding mismatch
	SubcodeMisdirected
	// SubcodeHashMismatch indicates the payload blob hash did not match
	SubcodeHashMismatch
)

// String returns the subcode name.
func (s InvalidMessageSubcode) String() string {
	switch s {
	case SubcodeBadSignature:
		return "BadSignature"
	case SubcodeMisdirected:
		return "Misdirected"
	case SubcodeHashMismatch:
		return "HashMismatch"
	default:
		return "Unspecified"
	}
}

// InvalidMessageError reports an inbound notification or payload that
// failed verification or decoding. The originating cause, if any, is
// retained and reachable through errors.Is/errors.As.
type InvalidMessageError struct {
	Subcode InvalidMessageSubcode
	Cause   error
}

func (e *InvalidMessageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid message (%s): %v", e.Subcode, e.Cause)
	}
	return fmt.Sprintf("invalid message (%s)", e.Subcode)
}

func (e *InvalidMessageError) Unwrap() error { return e.Cause }

// newInvalidMessage wraps cause as an InvalidMessageError, preserving an
// existing InvalidMessageError unchanged.
func newInvalidMessage(subcode InvalidMessageSubcode, cause error) error {
	var invalid *InvalidMessageError
	if errors.As(cause, &invalid) {
		return cause
	}
	return &InvalidMessageError{Subcode: subcode, Cause: cause}
}

// RecipientError is one failed recipient of a notification fan-out.
type RecipientError struct {
	Recipient string // recipient thumbprint
	Err       error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("recipient %s: %v", e.Recipient, e.Err)
}

func (e *RecipientError) Unwrap() error { return e.Err }

// FanoutError aggregates the failed recipients of a post. Recipients
// absent from Failures received their notification.
type FanoutError struct {
	Failures []*RecipientError
}

func (e *FanoutError) Error() string {
	msg := fmt.Sprintf("notification fan-out failed for %d recipient(s)", len(e.Failures))
	for _, f := range e.Failures {
		msg += "; " + f.Error()
	}
	return msg
}

package redeem

import (
	"errors"
	"fmt"
)

// Outcome classifies one redemption attempt of one code for one account.
type Outcome int

const (
	Success Outcome = iota
	Used
	Expired
	Invalid
	SessionExpired
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Used:
		return "already_used"
	case Expired:
		return "expired"
	case Invalid:
		return "invalid_code"
	case SessionExpired:
		return "session_expired"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

var (
	// ErrSessionExpired means the vendor no longer accepts the stored credential and
	// the verification handshake must run before redeeming.
	ErrSessionExpired = errors.New("redeem: session expired, verification required")
	// ErrPromptTimeout is returned by Prompter.Await when the reply window passes.
	ErrPromptTimeout = errors.New("redeem: no reply within the window")
)

// VerifyFailure is the kind of a failed verification handshake.
type VerifyFailure int

const (
	WrongCode VerifyFailure = iota
	RateLimited
	AlreadyInProgress
	Timeout
	RetriesExhausted
)

func (k VerifyFailure) String() string {
	switch k {
	case WrongCode:
		return "wrong_code"
	case RateLimited:
		return "rate_limited"
	case AlreadyInProgress:
		return "already_in_progress"
	case Timeout:
		return "timeout"
	case RetriesExhausted:
		return "retries_exhausted"
	default:
		return fmt.Sprintf("VerifyFailure(%d)", int(k))
	}
}

// VerifyError reports why a handshake ended without a verified session.
type VerifyError struct {
	Kind VerifyFailure
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("redeem: verification failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("redeem: verification failed (%s)", e.Kind)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// IsVerifyFailure reports whether err is a *VerifyError of the given kind.
func IsVerifyFailure(err error, kind VerifyFailure) bool {
	var ve *VerifyError
	return errors.As(err, &ve) && ve.Kind == kind
}

package lilith

import (
	"errors"
	"fmt"
)

var (
	// ErrMailTooOften: a verification mail was requested too recently.
	ErrMailTooOften = errors.New("lilith: verification mail requested too often")
	// ErrWrongCode: the submitted verification code was rejected.
	ErrWrongCode = errors.New("lilith: wrong verification code")
	// ErrLoginExpired: the stored login state is out of date.
	ErrLoginExpired = errors.New("lilith: login state out of date")
	// ErrMalformedResponse: the vendor answered with a server error or a body that is not JSON.
	ErrMalformedResponse = errors.New("lilith: malformed response")
)

// UnexpectedResponseError carries an info value no endpoint handler knows.
type UnexpectedResponseError struct {
	Endpoint string
	Info     string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("lilith: unexpected response from %s: info=%q", e.Endpoint, e.Info)
}

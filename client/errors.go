package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the session has no usable credentials left.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoRefreshToken is returned when a refresh was needed but no refresh token is stored.
	ErrNoRefreshToken = fmt.Errorf("%w: no refresh token stored", ErrUnauthenticated)
	// ErrRefreshFailed wraps the cause of a failed refresh cycle.
	ErrRefreshFailed    = errors.New("token refresh failed")
	errAlreadySignedOut = fmt.Errorf("%w: already signed out", ErrNoRefreshToken)
	// ErrBodyNotReplayable is logged when a 401 request cannot be re-sent.
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")
)

// RequestError describes a request that came back with a failure status.
type RequestError struct {
	Request  *http.Request
	Response *http.Response
}

// StatusCode returns the response status, or 0 when there is no response.
func (e *RequestError) StatusCode() int {
	if e == nil || e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

func (e *RequestError) Error() string {
	method, target := "", ""
	if e.Request != nil {
		method = e.Request.Method
		if e.Request.URL != nil {
			target = e.Request.URL.String()
		}
	}
	code := e.StatusCode()
	return fmt.Sprintf("%s %s: unexpected HTTP status: %d %s", method, target, code, http.StatusText(code))
}

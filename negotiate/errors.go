package negotiate

import (
	"errors"
	"fmt"
)

// Errors reported by a Negotiator. All are terminal: once Advance has
// returned one of these, the negotiation is over.
var (
	// ErrMalformedResponse is returned when the proxy's status line does
	// not parse as an HTTP response.
	ErrMalformedResponse = errors.New("negotiate: proxy response was absent or malformed")

	// ErrUnsupportedScheme is returned when the proxy asks for an
	// authentication scheme other than Basic.
	ErrUnsupportedScheme = errors.New("negotiate: proxy asked for unsupported authentication scheme")

	// ErrAuthUnavailable is returned when the proxy demands
	// authentication and no further way of satisfying it exists: the
	// connection is closing, the configured credentials were already
	// rejected, or no interactive prompt capability was declared.
	ErrAuthUnavailable = errors.New("negotiate: proxy requested authentication which we do not have")

	// ErrAborted is returned after the user declines an interactive
	// credential prompt. It carries no further detail.
	ErrAborted = errors.New("negotiate: aborted by user")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("negotiate: negotiator is closed")

	// ErrNoPrompt is returned by SupplyPromptResponse when no prompt is
	// pending.
	ErrNoPrompt = errors.New("negotiate: no prompt is pending")
)

// StatusError is returned when the proxy answers the CONNECT request
// with a definitive failure: any status outside 2xx other than 407.
type StatusError struct {
	// StatusCode is the HTTP status code returned by the proxy.
	StatusCode int

	// Status is the response status text starting with the code digits
	// (e.g., "403 Forbidden").
	Status string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("negotiate: HTTP response %s", e.Status)
}

// Is implements error matching for StatusError.
func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

package bridge

import "github.com/pkg/errors"

// Error taxonomy. Wrap these with errors.Wrap and classify with errors.Is.
var (
	// ErrValidation marks malformed inbound metadata or payloads.
	ErrValidation = errors.New("validation failed")
	// ErrAuth marks a rejected credential, token or signature.
	ErrAuth = errors.New("not authorized")
	// ErrNotFound marks an unknown tenant, thread or message.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks a failed chat platform or ticketing call.
	ErrUpstream = errors.New("upstream call failed")
	// ErrDestroyed is returned by operations on a destroyed session.
	ErrDestroyed = errors.New("session destroyed")
)

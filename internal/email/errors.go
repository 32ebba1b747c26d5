package email

import "fmt"

// ValidationError reports input that cannot be sent. It is raised before any
// I/O and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// EncodingError reports a malformed attachment payload or a message that
// could not be serialized for a provider.
type EncodingError struct {
	Subject string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s: %v", e.Subject, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// AuthError reports a failure to obtain provider credentials or to log in.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a rejected or failed delivery: a non-2xx REST
// response, an SMTP protocol error, or a network failure.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s delivery failed: %v", e.Provider, e.Err)
	default:
		return e.Provider + " delivery failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

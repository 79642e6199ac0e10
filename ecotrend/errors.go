package ecotrend

import "fmt"

// AuthError is a failure of the OIDC login, OTP or token exchange protocol.
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// LoginError is an authorization failure surfaced by the resource API layer.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login error: %s", e.Message)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// ParserError is a malformed or undecodable response body.
type ParserError struct {
	Message string
	Err     error
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("parser error: %s", e.Message)
}

func (e *ParserError) Unwrap() error {
	return e.Err
}

// ServerError is a network-level failure or an unexpected HTTP error status
// from a resource call.
type ServerError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error: %s", e.Message)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// InvalidUnitError is an invalid consumption unit uuid, inferred from a 400
// response on the consumptions endpoint.
type InvalidUnitError struct {
	UUID string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("retrieving data for consumption unit %s failed, possibly invalid uuid", e.UUID)
}

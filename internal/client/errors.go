package client

import "fmt"

// APIError is a non-2xx response from the ktqueue API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.RequestID != "" {
		return fmt.Sprintf("ktqueue api error (status %d, request_id: %s): %s", e.StatusCode, e.RequestID, msg)
	}
	return fmt.Sprintf("ktqueue api error (status %d): %s", e.StatusCode, msg)
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

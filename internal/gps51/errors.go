package gps51

import (
	"errors"
	"fmt"
)

// Vendor status codes meaning the session token is no longer accepted.
const (
	StatusTokenExpired = 9903
	StatusTokenInvalid = 9906
)

var tokenStatuses = map[int]bool{
	StatusTokenExpired: true,
	StatusTokenInvalid: true,
}

// APIError is a non-zero status returned in a vendor response body.
type APIError struct {
	Action  string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gps51 %s: status %d: %s", e.Action, e.Status, e.Message)
}

// IsTokenError reports whether err means the session must be refreshed.
func IsTokenError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return tokenStatuses[apiErr.Status]
	}
	return false
}

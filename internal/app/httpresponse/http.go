package httpresponse

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

type APIError struct {
	ErrorMessage string   `json:"error_message"`
	Details      []string `json:"details,omitempty"`
}

func Error(error string) *APIError {
	log.Error(error)
	e := &APIError{
		ErrorMessage: error,
	}
	return e
}

func Errorf(error string, a ...interface{}) *APIError {
	return Error(fmt.Sprintf(error, a...))
}

// Details is Error with one line per underlying failure.
func Details(error string, details []string) *APIError {
	e := Error(error)
	e.Details = append([]string(nil), details...)
	return e
}

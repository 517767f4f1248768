package types

import (
	"net/http"
	"strconv"
	"strings"
)

// Code identifies an API error as AREA_STATUS, e.g. COMMAND_503.
type Code string

const (
	CodeCommandInvalid  Code = "COMMAND_400"
	CodeCommandBusy     Code = "COMMAND_503"
	CodeJournalLimit    Code = "JOURNAL_400"
	CodeJournalDisabled Code = "JOURNAL_404"
	CodeJournalFailed   Code = "JOURNAL_500"
	CodeAuthInvalid     Code = "AUTH_400"
	CodeAuthRejected    Code = "AUTH_401"
	CodeAuthDisabled    Code = "AUTH_404"
)

// Status returns the HTTP status encoded in the code, or 500 if there is none.
func (c Code) Status() int {
	i := strings.LastIndexByte(string(c), '_')
	if i < 0 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(string(c[i+1:]))
	if err != nil || http.StatusText(n) == "" {
		return http.StatusInternalServerError
	}
	return n
}

type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the JSON error payload shared by all handlers.
func NewErrorResponse(code Code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

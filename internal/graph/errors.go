package graph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// APIError is a non-2xx answer from Graph or from the token endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (status=%d)", e.Code, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
}

// StatusCode extracts the HTTP status of an *APIError anywhere in err's chain.
// ok is false when err carries no structured status.
func StatusCode(err error) (code int, ok bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Error.Code != "" || env.Error.Message != "") {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

func fromTokenError(err error) *APIError {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return nil
	}
	msg := rerr.ErrorDescription
	if msg == "" {
		msg = strings.TrimSpace(string(rerr.Body))
	}
	return &APIError{
		StatusCode: rerr.Response.StatusCode,
		Code:       rerr.ErrorCode,
		Message:    "token request failed: " + msg,
	}
}

package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaizen-ai-systems/msgraph-mcp/internal/graph"
)

type failureKind string

const (
	failureArgument   failureKind = "invalid_arguments"
	failureNotFound   failureKind = "not_found"
	failureBadRequest failureKind = "bad_request"
	failureForbidden  failureKind = "forbidden"
	failureOther      failureKind = "error"
)

// classify maps a tool failure onto one of the domain failure kinds. Graph
// status codes win; the error text is only consulted when there is none.
func classify(err error) failureKind {
	var argErr *argumentError
	if errors.As(err, &argErr) {
		return failureArgument
	}

	if status, ok := graph.StatusCode(err); ok {
		switch status {
		case http.StatusNotFound:
			return failureNotFound
		case http.StatusBadRequest:
			return failureBadRequest
		case http.StatusUnauthorized, http.StatusForbidden:
			return failureForbidden
		default:
			return failureOther
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return failureNotFound
	case strings.Contains(msg, "400") || strings.Contains(msg, "bad request"):
		return failureBadRequest
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden"):
		return failureForbidden
	default:
		return failureOther
	}
}

// describeFailure renders the text returned to the caller for a failed tool.
func describeFailure(t tool, args arguments, err error) (failureKind, string) {
	kind := classify(err)
	switch kind {
	case failureNotFound:
		id, _ := args.optionalString("userId")
		if id == "" {
			return kind, fmt.Sprintf("Error: %s", err.Error())
		}
		return kind, fmt.Sprintf("Error: User '%s' not found. Please verify the user ID or userPrincipalName is correct.", id)
	case failureBadRequest:
		return kind, fmt.Sprintf("Error: Invalid request. %s", err.Error())
	case failureForbidden:
		return kind, fmt.Sprintf("Error: Permission denied. The application requires the %s permission (Application) in Azure AD.", t.permission)
	default:
		return kind, fmt.Sprintf("Error: %s", err.Error())
	}
}

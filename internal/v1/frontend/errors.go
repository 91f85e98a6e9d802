package frontend

import (
	"errors"
	"net/http"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

const unavailableMessage = "Service is currently unavailable"

// translateError maps a service failure to a user-facing message and HTTP
// status. Orchestration codes carry fixed translations; chat-service and
// validation failures surface their own message.
func translateError(err error) (string, int) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Msg, http.StatusBadRequest
	}
	var apiErr *chat.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message, apiErr.Status
	}

	switch types.CodeOf(err) {
	case types.ErrAlreadyCreated:
		return "Bot already created", http.StatusForbidden
	case types.ErrNoBot:
		return "Bot already deleted", http.StatusSeeOther
	case types.ErrNoBalancers, types.ErrNoWorkers, types.ErrPublishError:
		return unavailableMessage, http.StatusServiceUnavailable
	case "":
		return "Internal service error", http.StatusInternalServerError
	default:
		return unavailableMessage, http.StatusServiceUnavailable
	}
}

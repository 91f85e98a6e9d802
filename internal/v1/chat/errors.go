package chat

import "fmt"

// APIError is a chat-service failure with an HTTP status the frontend can
// surface as-is.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string { return e.Message }

// ErrNotResponding covers timeouts and transport failures toward the chat
// service.
var ErrNotResponding = &APIError{Message: "Chat API is not responding", Status: 503}

// RequestError signals a request the chat service rejected.
func RequestError(message string) *APIError {
	return &APIError{Message: message, Status: 403}
}

// UserNotFoundError is raised when a command targets a name absent from the
// room.
type UserNotFoundError struct {
	Name string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("User <%s> is not in the room", e.Name)
}

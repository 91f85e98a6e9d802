package bot

// CommandError is a user-facing command failure rendered into a chat reply.
type CommandError struct {
	Msg string
}

func (e *CommandError) Error() string { return e.Msg }

// ContextError signals that a command was called in the wrong room state
// (not host, player unavailable, dj mode). Also rendered into chat.
type ContextError struct {
	Msg string
}

func (e *ContextError) Error() string { return e.Msg }

// ExtractionError is a user-facing failure reported by the track source.
type ExtractionError struct {
	Msg string
}

func (e *ExtractionError) Error() string { return e.Msg }

var (
	errNotEnoughDJRights = &ContextError{Msg: "Not enough rights to use this command in dj mode"}
	errMustBeHost        = &ContextError{Msg: "Bot must be host to execute this command"}
	errPlayerUnavailable = &ContextError{Msg: "Player not available in this room"}
)

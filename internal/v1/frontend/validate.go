package frontend

import (
	"strings"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
)

// ValidationError rejects a create request before any backend is touched.
// The message is shown to the user as-is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// createCommand is a validated create request: names split from passcodes
// and the room URL resolved to its id.
type createCommand struct {
	UserName     string
	UserPasscode string
	FullUserName string

	BotName     string
	BotPasscode string
	FullBotName string

	RoomID  string
	RoomURL string
	Hidden  bool
}

// splitName splits "name#passcode" and checks both halves. The passcode
// itself carries a leading '#', so the wire form is "name##secret".
func splitName(full, label string) (name, passcode string, err error) {
	if full == "" {
		return "", "", invalid("Empty " + strings.ToLower(label) + " name")
	}
	name, passcode, found := strings.Cut(full, "#")
	if name == "" {
		return "", "", invalid("Empty " + strings.ToLower(label) + " name")
	}
	if len(name) > 20 {
		return "", "", invalid(label + " name must be less than 20 characters")
	}
	if !found {
		return "", "", invalid(label + " must have passcode")
	}
	if !strings.HasPrefix(passcode, "#") {
		return "", "", invalid(`Passcode must start with "#"`)
	}
	if len(passcode) < 6 {
		return "", "", invalid("Passcode must be more than 6 characters")
	}
	return name, passcode, nil
}

// validateCreate checks a raw create request and resolves the room id. A
// bare 10-character room id is accepted in place of the full URL.
func validateCreate(userName, botName, roomURL string, hidden bool) (*createCommand, error) {
	c := &createCommand{
		FullUserName: userName,
		FullBotName:  botName,
		RoomURL:      roomURL,
		Hidden:       hidden,
	}

	var err error
	if c.UserName, c.UserPasscode, err = splitName(userName, "User"); err != nil {
		return nil, err
	}
	if c.BotName, c.BotPasscode, err = splitName(botName, "Bot"); err != nil {
		return nil, err
	}
	if c.UserName == c.BotName {
		return nil, invalid("User and bot nicknames must be different")
	}

	if roomURL == "" {
		return nil, invalid("Empty room id/url")
	}
	roomID, ok := chat.ParseRoomURL(roomURL)
	if !ok {
		return nil, invalid("Invalid room id/url")
	}
	c.RoomID = roomID
	return c, nil
}

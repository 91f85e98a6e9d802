package botspec

import "fmt"

// Parser and authorization errors are user-visible: the bot renders them
// into chat replies instead of failing the pipeline.

type UnexpectedTokenError struct {
	Token string
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("Unexpected token <%s>", e.Token)
}

type EnclosingError struct{}

func (e *EnclosingError) Error() string {
	return "Unterminated quote"
}

type NoSuchCommandError struct {
	Name string
}

func (e *NoSuchCommandError) Error() string {
	return fmt.Sprintf("No such command <%s>", e.Name)
}

type NoSuchFlagError struct {
	Command string
	Flag    string
}

func (e *NoSuchFlagError) Error() string {
	return fmt.Sprintf("No such flag <%s>", e.Flag)
}

type ValueMissingError struct {
	Command string
}

func (e *ValueMissingError) Error() string {
	return fmt.Sprintf("Command <%s> requires a value", e.Command)
}

type ValueNotAllowedError struct {
	Command string
}

func (e *ValueNotAllowedError) Error() string {
	return fmt.Sprintf("Command <%s> does not take values", e.Command)
}

type MultipleValuesError struct {
	Command string
}

func (e *MultipleValuesError) Error() string {
	return fmt.Sprintf("Command <%s> takes a single value", e.Command)
}

type AccessRightsError struct {
	Name string
}

func (e *AccessRightsError) Error() string {
	return "Not enough rights to use this command"
}

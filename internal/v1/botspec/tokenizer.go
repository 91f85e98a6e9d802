// Package botspec implements the chat command language: the tokenizer that
// splits raw message text into commands, flags and values, and the spec
// registry that validates and authorizes parsed commands.
package botspec

import (
	"strings"
	"unicode"
)

// DefaultPrefix starts a command token ("-m", "-play").
const DefaultPrefix = "-"

// Delimiter separates chained commands in one message.
const Delimiter = "|"

// Flag is one parsed flag with the positional values that followed it.
type Flag struct {
	Name   string
	Values []string
}

// Command is one parsed command segment.
type Command struct {
	Name   string
	Values []string
	Flags  []Flag
}

type token struct {
	text   string
	quoted bool
}

// scan splits input into whitespace-separated tokens with quote handling.
// A quote opens multi-token collection until the closing quote; a backslash
// before a quote makes it literal. An unterminated quote is an error.
func scan(input string) ([]token, error) {
	var tokens []token
	var buf strings.Builder
	inQuote := false
	hasToken := false

	flush := func(quoted bool) {
		if hasToken || buf.Len() > 0 {
			tokens = append(tokens, token{text: buf.String(), quoted: quoted})
			buf.Reset()
			hasToken = false
		}
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && runes[i+1] == '"':
			buf.WriteRune('"')
			hasToken = true
			i++
		case r == '"':
			if inQuote {
				inQuote = false
				flush(true)
			} else {
				flush(false)
				inQuote = true
				hasToken = true
			}
		case unicode.IsSpace(r):
			if inQuote {
				buf.WriteRune(r)
			} else {
				flush(false)
			}
		default:
			buf.WriteRune(r)
			hasToken = true
		}
	}
	if inQuote {
		return nil, &EnclosingError{}
	}
	flush(false)
	return tokens, nil
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Parse tokenizes input into command segments. prefix starts a command
// token; "" means DefaultPrefix.
func Parse(input, prefix string) ([]Command, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	tokens, err := scan(input)
	if err != nil {
		return nil, err
	}

	var commands []Command
	var cur *Command
	var curFlag *Flag
	clusterCtx := false

	for _, tok := range tokens {
		text := tok.text
		switch {
		case !tok.quoted && text == Delimiter:
			cur, curFlag, clusterCtx = nil, nil, false

		case !tok.quoted && strings.HasPrefix(text, prefix+prefix) && isWord(text[2*len(prefix):]):
			// Long flag: re-opens a value context. At command position the
			// message is not command input; stop without error.
			if cur == nil {
				return commands, nil
			}
			cur.Flags = append(cur.Flags, Flag{Name: text[2*len(prefix):]})
			curFlag = &cur.Flags[len(cur.Flags)-1]
			clusterCtx = false

		case !tok.quoted && strings.HasPrefix(text, prefix) && isWord(text[len(prefix):]):
			rest := text[len(prefix):]
			if cur == nil {
				commands = append(commands, Command{Name: rest})
				cur = &commands[len(commands)-1]
				curFlag, clusterCtx = nil, false
				break
			}
			// Inside a command a short token is a cluster of boolean
			// single-character flags.
			for _, r := range rest {
				cur.Flags = append(cur.Flags, Flag{Name: string(r)})
			}
			curFlag = nil
			clusterCtx = true

		default:
			// Plain text at command position means the message is ordinary
			// chat, not a command; parsing stops quietly.
			if cur == nil {
				return commands, nil
			}
			if clusterCtx {
				return nil, &UnexpectedTokenError{Token: text}
			}
			if curFlag != nil {
				curFlag.Values = append(curFlag.Values, text)
			} else {
				cur.Values = append(cur.Values, text)
			}
		}
	}
	return commands, nil
}

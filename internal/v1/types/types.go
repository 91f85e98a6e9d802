package types

import (
	"encoding/json"
	"errors"
)

// --- Core Domain Types ---

// SessionID is the public identifier of a bot session (22 alphanumeric chars).
type SessionID = string

// ErrorCode is a wire-stable orchestration error identifier. Codes travel in
// broker reply payloads; an empty reply body means success.
type ErrorCode string

const (
	ErrAlreadyCreated ErrorCode = "ALREADY_CREATED"
	ErrNoBot          ErrorCode = "NO_BOT"
	ErrNoBalancers    ErrorCode = "NO_BALANCERS"
	ErrNoWorkers      ErrorCode = "NO_WORKERS"
	ErrPublishError   ErrorCode = "PUBLISH_ERROR"
	ErrNoCommand      ErrorCode = "NO_COMMAND"
)

func (c ErrorCode) Error() string { return string(c) }

// CodeOf extracts the orchestration code from an error chain, or "" when the
// error carries no wire-stable code.
func CodeOf(err error) ErrorCode {
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ""
}

// Broker command verbs (frontend/router -> balancer).
const (
	CommandCreate = "create"
	CommandDelete = "delete"
)

// Control-plane signal names (worker -> balancer).
const (
	SignalConnected    = "connected"
	SignalFailed       = "failed"
	SignalDeleted      = "deleted"
	SignalDisconnected = "disconnected"
	SignalUpdate       = "update"
	SignalCrashed      = "crashed"
)

// --- Session document ---

// UserInfo describes the human owner of a session as verified against the
// chat service at creation time.
type UserInfo struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Tripcode string `json:"tripcode"`
	FullName string `json:"full_name"`
}

// BotState is the mutable part of a session. Workers refresh the profile
// snapshots on every heartbeat; the balancer persists them to Postgres.
type BotState struct {
	ID        int64           `json:"id,omitempty"`
	Name      string          `json:"name"`
	FullName  string          `json:"full_name"`
	Tripcode  string          `json:"tripcode,omitempty"`
	Passcode  string          `json:"passcode,omitempty"`
	Icon      string          `json:"icon,omitempty"`
	Language  string          `json:"language,omitempty"`
	Prefix    string          `json:"command_prefix,omitempty"`
	Whitelist json.RawMessage `json:"whitelist,omitempty"`
	Blacklist json.RawMessage `json:"blacklist,omitempty"`
	Groups    json.RawMessage `json:"groups,omitempty"`
}

// RoomInfo identifies the chat room a bot is assigned to.
type RoomInfo struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Session is the JSON document stored under session:{sid} in Redis. It is
// the single source of truth handed to workers on bot creation.
type Session struct {
	User   UserInfo `json:"user"`
	Bot    BotState `json:"bot"`
	Room   RoomInfo `json:"room"`
	Hidden bool     `json:"hidden"`
}

// Validate ensures a session document is complete enough to hand to a worker.
func (s *Session) Validate() error {
	if s.User.Name == "" {
		return errors.New("session user name cannot be empty")
	}
	if s.Bot.FullName == "" {
		return errors.New("session bot name cannot be empty")
	}
	if s.Room.ID == "" {
		return errors.New("session room id cannot be empty")
	}
	return nil
}

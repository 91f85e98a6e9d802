// Package chat implements the client for the drrr-style chat service: login,
// lounge listing, room membership and the room action endpoints, plus the
// room state machine fed by update polling.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://drrr.com"
	DefaultIcon    = "kyo-2x"

	// SessionCookie is the name of the chat service session cookie.
	SessionCookie = "drrr-session-1"
)

// RoomURLBase prefixes a bare room id into a full room URL.
const RoomURLBase = "drrr.com/room/?id="

var roomURLPattern = regexp.MustCompile(`^(?:https?://)?drrr\.com/room/\?id=(.{10})$`)

// ParseRoomURL extracts the 10-character room id from a room URL. A bare id
// is accepted by prefixing RoomURLBase.
func ParseRoomURL(raw string) (string, bool) {
	if m := roomURLPattern.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	if m := roomURLPattern.FindStringSubmatch(RoomURLBase + raw); m != nil {
		return m[1], true
	}
	return "", false
}

// LoungeInfo is the lounge listing with the caller's own profile.
type LoungeInfo struct {
	Profile struct {
		Name     string `json:"name"`
		Tripcode string `json:"tripcode"`
	} `json:"profile"`
	Rooms []RoomInfo `json:"rooms"`
}

// Client talks to one chat service account. A client holds one session
// cookie, so each bot owns its own client.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

type apiEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("chat: build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return ErrNotResponding
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ErrNotResponding
	}
	if resp.StatusCode >= 500 {
		return ErrNotResponding
	}
	if resp.StatusCode >= 400 {
		return RequestError(fmt.Sprintf("Chat request failed (%d)", resp.StatusCode))
	}

	var envelope apiEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		return RequestError(envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("chat: decode response: %w", err)
		}
	}
	return nil
}

// Login authenticates the account. Passing a passcode yields a tripcode on
// the profile.
func (c *Client) Login(ctx context.Context, name, passcode, icon string) error {
	var envelope apiEnvelope
	if err := c.do(ctx, http.MethodGet, "/?api=json", nil, &envelope); err != nil {
		return err
	}
	if icon == "" {
		icon = DefaultIcon
	}
	form := url.Values{
		"name":     {name},
		"icon":     {icon},
		"token":    {envelope.Token},
		"login":    {"ENTER"},
		"language": {"en-US"},
	}
	if passcode != "" {
		form.Set("password", passcode)
	}
	return c.do(ctx, http.MethodPost, "/?api=json", form, nil)
}

// Logout drops the chat session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/logout?api=json", nil, nil)
}

// Lounge fetches the room listing and the caller's profile.
func (c *Client) Lounge(ctx context.Context) (*LoungeInfo, error) {
	var lounge LoungeInfo
	if err := c.do(ctx, http.MethodGet, "/lounge?api=json", nil, &lounge); err != nil {
		return nil, err
	}
	return &lounge, nil
}

// JoinRoom enters a room by id.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodGet, "/room/?api=json&id="+url.QueryEscape(roomID), nil, nil)
}

// FetchUpdate polls the room delta endpoint. since is the update cursor from
// the previous delta ("" on the first poll).
func (c *Client) FetchUpdate(ctx context.Context, since string) (*RoomUpdate, error) {
	var update RoomUpdate
	if err := c.do(ctx, http.MethodGet, "/json.php?fast=1&update="+url.QueryEscape(since), nil, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

func (c *Client) roomPost(ctx context.Context, form url.Values) error {
	return c.do(ctx, http.MethodPost, "/room/?ajax=1&api=json", form, nil)
}

// SendMessage posts a message. to whispers to a user id; link attaches a URL.
func (c *Client) SendMessage(ctx context.Context, text, to, link string) error {
	form := url.Values{"message": {text}}
	if to != "" {
		form.Set("to", to)
	}
	if link != "" {
		form.Set("url", link)
	}
	return c.roomPost(ctx, form)
}

// LeaveRoom exits the current room.
func (c *Client) LeaveRoom(ctx context.Context) error {
	return c.roomPost(ctx, url.Values{"leave": {"leave"}})
}

// GiveHost transfers host to a user id. Only the current host may call it.
func (c *Client) GiveHost(ctx context.Context, userID string) error {
	return c.roomPost(ctx, url.Values{"new_host": {userID}})
}

// Kick removes a user from the room.
func (c *Client) Kick(ctx context.Context, userID string) error {
	return c.roomPost(ctx, url.Values{"kick": {userID}})
}

// Ban removes a user and blocks rejoining.
func (c *Client) Ban(ctx context.Context, userID string) error {
	return c.roomPost(ctx, url.Values{"ban": {userID}})
}

// PlayMusic starts playback of a stream URL under a display name.
func (c *Client) PlayMusic(ctx context.Context, name, streamURL string) error {
	return c.roomPost(ctx, url.Values{
		"music": {"music"},
		"name":  {name},
		"url":   {streamURL},
	})
}

package bot

import (
	"context"
	"sync"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
	"github.com/ilyaf835/lamb2-dev/internal/v1/pool"
	"github.com/ilyaf835/lamb2-dev/internal/v1/profile"
)

const (
	commandsWorkers = 2
	hooksWorkers    = 1
	poolBacklog     = 64
)

// Mediator owns the shared state of one bot and the named locks guarding
// it. Everything the subroutines, commands and hooks touch goes through
// here.
type Mediator struct {
	Profile    *profile.Profile
	Translator *Translator
	Player     *player.Player
	Chat       ChatAPI
	Room       *chat.Room
	Extractor  TrackSource
	Sender     *Sender

	// BotIdentity is the bot's own chat identity; the tripcode is filled
	// in after login.
	BotIdentity profile.Identity

	ChatMu      sync.Mutex
	PlayerMu    sync.Mutex
	GroupsMu    sync.Mutex
	BlacklistMu sync.Mutex
	WhitelistMu sync.Mutex
	SearchMu    sync.Mutex
	DJMu        sync.Mutex

	djMode bool

	CommandsPool *pool.Pool
	HooksPool    *pool.Pool

	errsMu     sync.Mutex
	threadErrs []error
}

// CollectError records a background failure for the exceptions sentinel.
func (m *Mediator) CollectError(err error) {
	m.errsMu.Lock()
	m.threadErrs = append(m.threadErrs, err)
	m.errsMu.Unlock()
}

// TakeError pops the oldest collected background failure, or nil.
func (m *Mediator) TakeError() error {
	m.errsMu.Lock()
	defer m.errsMu.Unlock()
	if len(m.threadErrs) == 0 {
		return nil
	}
	err := m.threadErrs[0]
	m.threadErrs = m.threadErrs[1:]
	return err
}

func (m *Mediator) IsAdminUser(u chat.User) bool {
	return m.Profile.IsAdmin(u.Name, u.Tripcode)
}

func (m *Mediator) IsBotUser(u chat.User) bool {
	return m.BotIdentity.Name == u.Name && m.BotIdentity.Tripcode == u.Tripcode
}

func (m *Mediator) UserPermit(u chat.User) int {
	m.GroupsMu.Lock()
	defer m.GroupsMu.Unlock()
	return m.Profile.UserPermit(u.Name, u.Tripcode)
}

func (m *Mediator) CheckPermit(group string, u chat.User) bool {
	m.GroupsMu.Lock()
	defer m.GroupsMu.Unlock()
	return m.Profile.CheckPermit(group, u.Name, u.Tripcode)
}

// RoomUser finds a participant by name. The returned value is a copy: room
// state is rebuilt on every update, holding pointers across calls races
// with the event loop.
func (m *Mediator) RoomUser(name string) (*chat.User, error) {
	m.ChatMu.Lock()
	defer m.ChatMu.Unlock()
	u, err := m.Room.UserByName(name)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &cp, nil
}

// AdminUser finds the admin in the room, or nil when absent.
func (m *Mediator) AdminUser() *chat.User {
	u, err := m.RoomUser(m.Profile.Admin.Name)
	if err != nil {
		return nil
	}
	return u
}

// BotUser finds the bot's own room entry.
func (m *Mediator) BotUser() (*chat.User, error) {
	return m.RoomUser(m.BotIdentity.Name)
}

// BotIsHost reports whether the bot currently holds host.
func (m *Mediator) BotIsHost() bool {
	bot, err := m.BotUser()
	if err != nil {
		return false
	}
	m.ChatMu.Lock()
	defer m.ChatMu.Unlock()
	return m.Room.IsHost(bot)
}

// GiveHost transfers host to the given user, provided the bot holds it.
func (m *Mediator) GiveHost(ctx context.Context, user *chat.User) error {
	if user == nil || !m.BotIsHost() {
		return nil
	}
	return m.Chat.GiveHost(ctx, user.ID)
}

// PlayerAvailable reports whether the room lets the bot drive music: the
// room plays music and either dj mode is off or the bot is host.
func (m *Mediator) PlayerAvailable() bool {
	host := m.BotIsHost()
	m.ChatMu.Lock()
	defer m.ChatMu.Unlock()
	return m.Room.Music && (!m.Room.DJMode || host)
}

// DJMode reports the dj-mode toggle.
func (m *Mediator) DJMode() bool {
	m.DJMu.Lock()
	defer m.DJMu.Unlock()
	return m.djMode
}

// SwitchDJMode flips dj mode and returns the new state.
func (m *Mediator) SwitchDJMode() bool {
	m.DJMu.Lock()
	defer m.DJMu.Unlock()
	m.djMode = !m.djMode
	return m.djMode
}

// SwitchWhitelist flips whitelist enforcement and returns the new state.
func (m *Mediator) SwitchWhitelist() bool {
	m.WhitelistMu.Lock()
	defer m.WhitelistMu.Unlock()
	m.Profile.WhitelistEnabled = !m.Profile.WhitelistEnabled
	return m.Profile.WhitelistEnabled
}

// WhitelistEnabled reports whether join whitelisting is enforced.
func (m *Mediator) WhitelistEnabled() bool {
	m.WhitelistMu.Lock()
	defer m.WhitelistMu.Unlock()
	return m.Profile.WhitelistEnabled
}

// ToUser picks the reply target for a command response: the sender when
// the command arrived privately, the whole room otherwise.
func (m *Mediator) ToUser(msg *chat.Message) *chat.User {
	if msg.Private() {
		u := msg.User
		return &u
	}
	return nil
}

func (m *Mediator) SendMessage(text string, user *chat.User) {
	m.Sender.Send(text, user, "")
}

func (m *Mediator) SendError(err error, user *chat.User) {
	m.Sender.SendError(err, user)
}

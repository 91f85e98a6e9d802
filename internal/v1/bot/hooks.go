package bot

import (
	"context"
	"fmt"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/profile"
)

// JoinHook reacts to a user entering the room. Returning true stops the
// chain: later hooks must not greet a user an earlier hook just removed.
type JoinHook interface {
	OnJoin(ctx context.Context, msg *chat.Message) (bool, error)
}

// MessageHook reacts to a chat message.
type MessageHook interface {
	OnMessage(ctx context.Context, msg *chat.Message) (bool, error)
}

// whitelistHook kicks joiners who are not whitelisted while enforcement is
// on and the bot holds host.
type whitelistHook struct {
	m *Mediator
}

func (h *whitelistHook) OnJoin(ctx context.Context, msg *chat.Message) (bool, error) {
	user := msg.User
	if !h.m.WhitelistEnabled() || h.m.IsAdminUser(user) || !h.m.BotIsHost() {
		return false, nil
	}
	h.m.WhitelistMu.Lock()
	listed := h.m.Profile.Whitelisted(user.Name)
	h.m.WhitelistMu.Unlock()
	if listed {
		return false, nil
	}
	if err := h.m.Chat.Kick(ctx, user.ID); err != nil {
		return false, err
	}
	return true, nil
}

// blacklistHook bans permanently blacklisted joiners on sight.
type blacklistHook struct {
	m *Mediator
}

func (h *blacklistHook) OnJoin(ctx context.Context, msg *chat.Message) (bool, error) {
	user := msg.User
	if !h.m.BotIsHost() {
		return false, nil
	}
	h.m.BlacklistMu.Lock()
	entry, banned := h.m.Profile.BanStatus(user.Name)
	h.m.BlacklistMu.Unlock()
	if !banned || entry.Status != profile.BanPermanent {
		return false, nil
	}
	if err := h.m.Chat.Ban(ctx, user.ID); err != nil {
		return false, err
	}
	return true, nil
}

// privateMessageHook relays whispers from other users to the admin.
type privateMessageHook struct {
	m *Mediator
}

func (h *privateMessageHook) OnMessage(ctx context.Context, msg *chat.Message) (bool, error) {
	if !msg.Private() || h.m.IsAdminUser(msg.User) {
		return false, nil
	}
	if admin := h.m.AdminUser(); admin != nil {
		h.m.SendMessage(fmt.Sprintf("%s: %s", msg.User.Name, msg.Text), admin)
	}
	return false, nil
}

// noticeHook greets each user once with the help message.
type noticeHook struct {
	m        *Mediator
	notified map[string]bool
}

func (h *noticeHook) OnJoin(ctx context.Context, msg *chat.Message) (bool, error) {
	user := msg.User
	if h.notified[user.Name] {
		return false, nil
	}
	h.notified[user.Name] = true
	h.m.SendMessage(HelpMessage, &user)
	return false, nil
}

// Hooks runs the join and message hook chains on the hooks pool.
type Hooks struct {
	m            *Mediator
	joinHooks    []JoinHook
	messageHooks []MessageHook
}

func NewHooks(m *Mediator) *Hooks {
	notice := &noticeHook{m: m, notified: make(map[string]bool)}
	return &Hooks{
		m:            m,
		joinHooks:    []JoinHook{&whitelistHook{m}, &blacklistHook{m}, notice},
		messageHooks: []MessageHook{&privateMessageHook{m}},
	}
}

// RunJoin runs the join chain until a hook reports it handled the user.
func (h *Hooks) RunJoin(ctx context.Context, msg *chat.Message) error {
	for _, hook := range h.joinHooks {
		handled, err := hook.OnJoin(ctx, msg)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	return nil
}

// RunMessage runs the message chain.
func (h *Hooks) RunMessage(ctx context.Context, msg *chat.Message) error {
	for _, hook := range h.messageHooks {
		handled, err := hook.OnMessage(ctx, msg)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	return nil
}

// Package bot implements the per-session chat bot: room state, moderation
// profile, music queue and the cooperative subroutine pipeline that drives
// them. One Bot instance serves one session and runs on its worker's event
// loop.
package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/botspec"
	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/executor"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
	"github.com/ilyaf835/lamb2-dev/internal/v1/pool"
	"github.com/ilyaf835/lamb2-dev/internal/v1/profile"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

// Bot ties the mediator, command handlers, hooks and subroutine pipeline
// together for one session.
type Bot struct {
	m        *Mediator
	commands *Commands
	hooks    *Hooks
	registry *botspec.Registry
	exec     *executor.Executor
	session  *types.Session
	prefix   string

	messagesQueue []chat.Message
	commandsQueue []queuedCommand
}

// New assembles a bot from its session document. chatAPI must be a fresh,
// not yet logged-in client; source resolves track URLs and searches.
func New(session *types.Session, chatAPI ChatAPI, source TrackSource) (*Bot, error) {
	admin := profile.Identity{Name: session.User.Name, Tripcode: session.User.Tripcode}
	prof, err := profile.Load(admin, session.Bot.Name,
		session.Bot.Whitelist, session.Bot.Blacklist, session.Bot.Groups)
	if err != nil {
		return nil, err
	}

	translator := NewTranslator(nil, nil, session.Bot.Language)
	m := &Mediator{
		Profile:    prof,
		Translator: translator,
		Player:     player.New(),
		Chat:       chatAPI,
		Room:       chat.NewRoom(),
		Extractor:  source,
		BotIdentity: profile.Identity{
			Name:     session.Bot.Name,
			Tripcode: session.Bot.Tripcode,
		},
	}
	m.CommandsPool = pool.New(commandsWorkers, poolBacklog, m.CollectError)
	m.HooksPool = pool.New(hooksWorkers, poolBacklog, m.CollectError)
	m.Sender = NewSender(chatAPI, translator, func(err error) {
		logging.Warn(context.Background(), "outgoing message failed",
			zap.String("bot_name", logging.RedactName(session.Bot.Name)), zap.Error(err))
	})

	registry, err := botspec.NewRegistry(CommandTable(), profile.Permits)
	if err != nil {
		return nil, err
	}

	prefix := session.Bot.Prefix
	if prefix == "" {
		prefix = CommandPrefix
	}

	b := &Bot{
		m:        m,
		registry: registry,
		session:  session,
		prefix:   prefix,
	}
	b.commands = NewCommands(m)
	b.hooks = NewHooks(m)
	for _, name := range registry.Names() {
		if _, err := b.commands.handler(name); err != nil {
			return nil, fmt.Errorf("bot: command table entry %q has no handler", name)
		}
	}

	b.exec = executor.New(
		&exceptionsSentinel{b},
		&messagesUpdating{b},
		&messagesProcessing{b},
		newCommandsProcessing(b),
		&musicPlayer{b},
	)
	return b, nil
}

// Login signs the bot into the chat service and learns its tripcode from
// the lounge profile.
func (b *Bot) Login(ctx context.Context) error {
	bot := &b.session.Bot
	if err := b.m.Chat.Login(ctx, bot.Name, bot.Passcode, bot.Icon); err != nil {
		return err
	}
	lounge, err := b.m.Chat.Lounge(ctx)
	if err != nil {
		return err
	}
	bot.Tripcode = lounge.Profile.Tripcode
	b.m.BotIdentity.Tripcode = lounge.Profile.Tripcode
	return nil
}

func (b *Bot) Logout(ctx context.Context) error {
	return b.m.Chat.Logout(ctx)
}

func (b *Bot) JoinRoom(ctx context.Context) error {
	return b.m.Chat.JoinRoom(ctx, b.session.Room.ID)
}

func (b *Bot) LeaveRoom(ctx context.Context) error {
	return b.m.Chat.LeaveRoom(ctx)
}

// ReturnHost hands host back to the admin on shutdown; failures are
// irrelevant at that point.
func (b *Bot) ReturnHost(ctx context.Context) {
	b.m.ChatMu.Lock()
	connected := b.m.Room.Connected()
	b.m.ChatMu.Unlock()
	if !connected {
		return
	}
	_ = b.m.GiveHost(ctx, b.m.AdminUser())
}

func (b *Bot) Start()        { b.exec.Start() }
func (b *Bot) Running() bool { return b.exec.Running() }

// RunOnce executes one pipeline tick on the worker's event loop.
func (b *Bot) RunOnce(ctx context.Context) error {
	return b.exec.RunOnce(ctx)
}

// Shutdown stops the pipeline and drains the worker pools.
func (b *Bot) Shutdown() {
	b.exec.Stop()
	b.m.CommandsPool.Close()
	b.m.HooksPool.Close()
	b.m.Sender.Close()
}

// Snapshot captures the mutable profile state into the session's bot
// record for heartbeats and write-back.
func (b *Bot) Snapshot() (types.BotState, error) {
	b.m.GroupsMu.Lock()
	b.m.WhitelistMu.Lock()
	b.m.BlacklistMu.Lock()
	whitelist, blacklist, groups, err := b.m.Profile.Snapshot()
	b.m.BlacklistMu.Unlock()
	b.m.WhitelistMu.Unlock()
	b.m.GroupsMu.Unlock()
	if err != nil {
		return types.BotState{}, err
	}

	state := b.session.Bot
	state.Whitelist = whitelist
	state.Blacklist = blacklist
	state.Groups = groups
	return state, nil
}

// Mediator exposes the shared state for tests and the worker runtime.
func (b *Bot) Mediator() *Mediator { return b.m }

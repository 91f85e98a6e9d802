package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ilyaf835/lamb2-dev/internal/v1/botspec"
	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/executor"
	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
)

const (
	updateRetries = 2
	// SpamDelay is the per-user cooldown between accepted commands.
	SpamDelay = 2 * time.Second
)

type queuedCommand struct {
	msg chat.Message
	inv *botspec.Invocation
}

// renderable reports whether an error should be turned into a chat reply
// instead of failing the bot.
func renderable(err error) bool {
	var (
		cmdErr *CommandError
		ctxErr *ContextError
		extErr *ExtractionError
		apiErr *chat.APIError
		nfErr  *chat.UserNotFoundError
		durErr *player.TrackDurationError
		limErr *player.QueueLimitError
	)
	return errors.As(err, &cmdErr) || errors.As(err, &ctxErr) || errors.As(err, &extErr) ||
		errors.As(err, &apiErr) || errors.As(err, &nfErr) ||
		errors.As(err, &durErr) || errors.As(err, &limErr)
}

// exceptionsSentinel surfaces background failures from the worker pools.
// It runs first so a crashed hook or threaded command stops the bot before
// the next update cycle.
type exceptionsSentinel struct {
	b *Bot
}

func (s *exceptionsSentinel) Name() string { return "exceptions_sentinel" }

func (s *exceptionsSentinel) Run(ctx context.Context) (executor.Signal, error) {
	if err := s.b.m.TakeError(); err != nil {
		return executor.None, err
	}
	return executor.None, nil
}

// messagesUpdating polls the room update endpoint and feeds new messages
// into the queue. Transient chat API failures are retried before giving up.
type messagesUpdating struct {
	b *Bot
}

func (s *messagesUpdating) Name() string { return "messages_updating" }

func (s *messagesUpdating) fetchUpdate(ctx context.Context) (*chat.RoomUpdate, error) {
	retries := updateRetries
	for {
		s.b.m.ChatMu.Lock()
		since := s.b.m.Room.UpdateTime
		s.b.m.ChatMu.Unlock()

		update, err := s.b.m.Chat.FetchUpdate(ctx, since)
		if err == nil {
			return update, nil
		}
		var apiErr *chat.APIError
		if !errors.As(err, &apiErr) || retries == 0 {
			return nil, err
		}
		retries--
	}
}

func (s *messagesUpdating) Run(ctx context.Context) (executor.Signal, error) {
	update, err := s.fetchUpdate(ctx)
	if err != nil {
		return executor.None, err
	}
	s.b.m.ChatMu.Lock()
	fresh := s.b.m.Room.ApplyUpdate(update)
	s.b.m.ChatMu.Unlock()
	s.b.messagesQueue = append(s.b.messagesQueue, fresh...)
	return executor.None, nil
}

// messagesProcessing drains the message queue through its local chain:
// drop the bot's own messages, trigger hooks, pause on room music, parse
// commands. A Skip from a local stage drops the message, not the tick.
type messagesProcessing struct {
	b *Bot
}

func (s *messagesProcessing) Name() string { return "messages_processing" }

func (s *messagesProcessing) Run(ctx context.Context) (executor.Signal, error) {
	for len(s.b.messagesQueue) > 0 {
		msg := s.b.messagesQueue[0]
		s.b.messagesQueue = s.b.messagesQueue[1:]

		signal, err := s.processMessage(ctx, &msg)
		if err != nil {
			return executor.None, err
		}
		if signal == executor.Terminate {
			return signal, nil
		}
	}
	return executor.None, nil
}

func (s *messagesProcessing) processMessage(ctx context.Context, msg *chat.Message) (executor.Signal, error) {
	locals := []func(context.Context, *chat.Message) (executor.Signal, error){
		s.skipOwnMessage,
		s.triggerHooks,
		s.handleMusicMessage,
		s.parseCommands,
	}
	for _, local := range locals {
		signal, err := local(ctx, msg)
		if err != nil {
			return executor.None, err
		}
		if signal == executor.Skip {
			return executor.None, nil
		}
		if signal != executor.None {
			return signal, nil
		}
	}
	return executor.None, nil
}

func (s *messagesProcessing) skipOwnMessage(ctx context.Context, msg *chat.Message) (executor.Signal, error) {
	if s.b.m.IsBotUser(msg.User) {
		return executor.Skip, nil
	}
	return executor.None, nil
}

func (s *messagesProcessing) triggerHooks(ctx context.Context, msg *chat.Message) (executor.Signal, error) {
	m := *msg
	switch msg.Kind {
	case chat.KindJoin:
		_ = s.b.m.HooksPool.Submit(func() error {
			return s.b.hooks.RunJoin(context.Background(), &m)
		})
	case chat.KindMessage:
		_ = s.b.m.HooksPool.Submit(func() error {
			return s.b.hooks.RunMessage(context.Background(), &m)
		})
	}
	return executor.None, nil
}

func (s *messagesProcessing) handleMusicMessage(ctx context.Context, msg *chat.Message) (executor.Signal, error) {
	if msg.Kind != chat.KindMusic {
		return executor.None, nil
	}
	m := s.b.m
	m.PlayerMu.Lock()
	paused := m.Player.Paused
	if !paused {
		m.Player.Paused = true
		m.Player.ResetTimestamp()
	}
	m.PlayerMu.Unlock()
	if !paused {
		m.SendMessage("Queue paused", nil)
	}
	return executor.None, nil
}

func (s *messagesProcessing) parseCommands(ctx context.Context, msg *chat.Message) (executor.Signal, error) {
	if msg.Kind != chat.KindMessage {
		return executor.None, nil
	}
	m := s.b.m

	m.BlacklistMu.Lock()
	_, banned := m.Profile.BanStatus(msg.User.Name)
	m.BlacklistMu.Unlock()
	if banned {
		return executor.None, nil
	}

	parsed, err := botspec.Parse(msg.Text, s.b.prefix)
	if err != nil {
		m.SendError(err, m.ToUser(msg))
		return executor.None, nil
	}
	if len(parsed) == 0 {
		return executor.None, nil
	}

	permit := m.UserPermit(msg.User)
	for i := range parsed {
		inv, err := s.b.registry.Check(&parsed[i], permit)
		if err != nil {
			m.SendError(err, m.ToUser(msg))
			return executor.None, nil
		}
		s.b.commandsQueue = append(s.b.commandsQueue, queuedCommand{msg: *msg, inv: inv})
	}
	return executor.None, nil
}

// commandsProcessing drains the command queue: spam throttling first, then
// dispatch to the handler, threaded or inline.
type commandsProcessing struct {
	b          *Bot
	timestamps map[string]time.Time
	now        func() time.Time
}

func newCommandsProcessing(b *Bot) *commandsProcessing {
	return &commandsProcessing{
		b:          b,
		timestamps: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (s *commandsProcessing) Name() string { return "commands_processing" }

func (s *commandsProcessing) Run(ctx context.Context) (executor.Signal, error) {
	for len(s.b.commandsQueue) > 0 {
		qc := s.b.commandsQueue[0]
		s.b.commandsQueue = s.b.commandsQueue[1:]

		if s.throttled(&qc.msg) {
			continue
		}
		signal, err := s.execute(ctx, qc)
		if err != nil {
			return executor.None, err
		}
		if signal != executor.None {
			return signal, nil
		}
	}
	return executor.None, nil
}

// throttled enforces the per-user command cooldown. The admin is exempt.
func (s *commandsProcessing) throttled(msg *chat.Message) bool {
	if s.b.m.IsAdminUser(msg.User) {
		return false
	}
	key := msg.User.Name + "\x00" + msg.User.Tripcode
	now := s.now()
	until, seen := s.timestamps[key]
	if !seen || !now.Before(until) {
		s.timestamps[key] = now.Add(SpamDelay)
		return false
	}
	s.b.m.SendMessage("Don't spam commands", s.b.m.ToUser(msg))
	return true
}

func (s *commandsProcessing) execute(ctx context.Context, qc queuedCommand) (executor.Signal, error) {
	spec := qc.inv.Spec
	handle, err := s.b.commands.handler(spec.Name)
	if err != nil {
		return executor.None, err
	}

	msg := qc.msg
	run := func() error {
		if err := s.invoke(context.Background(), handle, &msg, qc.inv); err != nil {
			if renderable(err) {
				s.b.renderCommandError(&msg, spec, err)
				metrics.CommandsExecuted.WithLabelValues(spec.Name, "error").Inc()
				return nil
			}
			return err
		}
		metrics.CommandsExecuted.WithLabelValues(spec.Name, "success").Inc()
		return nil
	}

	if spec.Threaded {
		_ = s.b.m.CommandsPool.Submit(run)
	} else if err := run(); err != nil {
		return executor.None, err
	}
	if spec.Terminates {
		return executor.Terminate, nil
	}
	return executor.None, nil
}

// invoke fans a multi-value invocation out to one handler call per value
// unless the command takes its values as a batch.
func (s *commandsProcessing) invoke(ctx context.Context, handle handlerFunc, msg *chat.Message, inv *botspec.Invocation) error {
	if !inv.Spec.BatchValues && len(inv.Values) > 1 {
		for _, value := range inv.Values {
			single := *inv
			single.Values = []string{value}
			if err := handle(ctx, msg, &single); err != nil {
				return err
			}
		}
		return nil
	}
	return handle(ctx, msg, inv)
}

// musicPlayer advances the queue whenever the current track's playing
// window has closed and playback is not paused. The room must let the bot
// drive music at all: music enabled, and dj mode off or the bot holding
// host.
type musicPlayer struct {
	b *Bot
}

func (s *musicPlayer) Name() string { return "music_player" }

func (s *musicPlayer) Run(ctx context.Context) (executor.Signal, error) {
	m := s.b.m
	if !m.PlayerAvailable() {
		return executor.None, nil
	}
	m.PlayerMu.Lock()
	if m.Player.Paused || m.Player.Playing() {
		m.PlayerMu.Unlock()
		return executor.None, nil
	}
	track := m.Player.NextTrack()
	m.PlayerMu.Unlock()
	if track == nil {
		return executor.None, nil
	}

	if err := m.Chat.PlayMusic(ctx, track.Title, track.StreamURL); err != nil {
		return executor.None, err
	}
	m.PlayerMu.Lock()
	m.Player.SetTimestamp()
	m.PlayerMu.Unlock()
	return executor.None, nil
}

// renderCommandError turns a failed command into a chat reply. Replies go
// to the room, except when the command arrived as a whisper from the
// admin; then the reply stays private.
func (b *Bot) renderCommandError(msg *chat.Message, spec *botspec.CommandSpec, err error) {
	var target *chat.User
	if msg.Private() && b.m.IsAdminUser(msg.User) {
		u := msg.User
		target = &u
	}
	if err.Error() != "" {
		b.m.SendError(err, target)
		return
	}
	b.m.SendMessage(fmt.Sprintf("Unexpected error while executing command <%s>", spec.Name), target)
}

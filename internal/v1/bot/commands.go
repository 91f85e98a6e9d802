package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ilyaf835/lamb2-dev/internal/v1/botspec"
	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
	"github.com/ilyaf835/lamb2-dev/internal/v1/profile"
)

const (
	queuePageSize = 3
	titleWidth    = 20
	maxSearchPick = 3
)

type handlerFunc func(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error

// Commands implements the chat command handlers. Dispatch is a static map
// from canonical command name to method, validated against the table at
// construction.
type Commands struct {
	m        *Mediator
	handlers map[string]handlerFunc

	searchList []player.Track
}

func NewCommands(m *Mediator) *Commands {
	c := &Commands{m: m}
	c.handlers = map[string]handlerFunc{
		"help":                  c.help,
		"leave":                 c.leave,
		"give_host":             c.giveHost,
		"add_moder":             c.addModer,
		"remove_moder":          c.removeModer,
		"add_dj":                c.addDJ,
		"remove_dj":             c.removeDJ,
		"add_to_whitelist":      c.addToWhitelist,
		"remove_from_whitelist": c.removeFromWhitelist,
		"whitelist":             c.whitelist,
		"whitelist_status":      c.whitelistStatus,
		"block_commands":        c.blockCommands,
		"kick":                  c.kick,
		"ban":                   c.ban,
		"unban":                 c.unban,
		"dj_mode":               c.djMode,
		"queue":                 c.queue,
		"search_results":        c.searchResults,
		"play":                  c.play,
		"search":                c.search,
		"choose":                c.choose,
		"repeat":                c.repeat,
		"next":                  c.next,
		"remove_song":           c.removeSong,
		"clear_queue":           c.clearQueue,
		"pause":                 c.pause,
		"unpause":               c.unpause,
	}
	return c
}

// handler resolves the method for a canonical command name.
func (c *Commands) handler(name string) (handlerFunc, error) {
	h, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("bot: no handler for command %q", name)
	}
	return h, nil
}

// --- guards ---

func (c *Commands) guardDJ(u chat.User) error {
	if c.m.DJMode() && !c.m.CheckPermit("dj", u) {
		return errNotEnoughDJRights
	}
	return nil
}

func (c *Commands) guardHost() error {
	if !c.m.BotIsHost() {
		return errMustBeHost
	}
	return nil
}

func (c *Commands) guardPlayer() error {
	if !c.m.PlayerAvailable() {
		return errPlayerUnavailable
	}
	return nil
}

// --- formatting helpers ---

func shorten(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= titleWidth {
		return s
	}
	return strings.TrimSpace(string(runes[:titleWidth])) + "…"
}

func queueMessage(queue []player.Track, page int) string {
	var b strings.Builder
	start := (page - 1) * queuePageSize
	end := start + queuePageSize
	if start >= len(queue) {
		return ""
	}
	if end > len(queue) {
		end = len(queue)
	}
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%d. %s\nyoutu.be/%s\n", i+1, shorten(queue[i].Title), queue[i].OriginID)
	}
	return strings.TrimSpace(b.String())
}

func searchMessage(results []player.Track) string {
	var b strings.Builder
	for i, track := range results {
		fmt.Fprintf(&b, "%d. %s\nyoutu.be/%s\n", i+1, shorten(track.Title), track.OriginID)
	}
	return strings.TrimSpace(b.String())
}

func validateIndex(s string, min, max int, errMsg string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < min || v > max {
		return 0, &CommandError{Msg: errMsg}
	}
	return v, nil
}

// --- handlers ---

func (c *Commands) help(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	sender := msg.User
	target := &sender
	if c.m.CheckPermit("moder", msg.User) {
		if len(inv.Values) > 0 {
			named, err := c.m.RoomUser(inv.Values[0])
			if err != nil {
				return err
			}
			target = named
		} else if inv.HasFlag("public") {
			target = nil
		}
	}
	c.m.SendMessage(HelpMessage, target)
	return nil
}

func (c *Commands) leave(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.m.GiveHost(ctx, c.m.AdminUser()); err != nil {
		return err
	}
	return c.m.Chat.LeaveRoom(ctx)
}

func (c *Commands) giveHost(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardHost(); err != nil {
		return err
	}
	var target *chat.User
	if len(inv.Values) > 0 {
		named, err := c.m.RoomUser(inv.Values[0])
		if err != nil {
			return err
		}
		target = named
	} else {
		target = c.m.AdminUser()
	}
	return c.m.GiveHost(ctx, target)
}

func (c *Commands) addToGroup(group, name string) error {
	user, err := c.m.RoomUser(name)
	if err != nil {
		return err
	}
	c.m.GroupsMu.Lock()
	defer c.m.GroupsMu.Unlock()
	g, ok := c.m.Profile.Groups[group]
	if !ok {
		return &CommandError{Msg: fmt.Sprintf("No such group <%s>", group)}
	}
	if err := g.AddUser(user.Name, user.Tripcode); err != nil {
		return &CommandError{Msg: fmt.Sprintf("User <%s> has no tripcode", user.Name)}
	}
	return nil
}

func (c *Commands) removeFromGroup(group, name string) error {
	c.m.GroupsMu.Lock()
	defer c.m.GroupsMu.Unlock()
	if g, ok := c.m.Profile.Groups[group]; ok {
		g.RemoveUser(name)
	}
	return nil
}

func (c *Commands) addModer(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	return c.addToGroup("moder", inv.Values[0])
}

func (c *Commands) removeModer(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	return c.removeFromGroup("moder", inv.Values[0])
}

func (c *Commands) addDJ(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	return c.addToGroup("dj", inv.Values[0])
}

func (c *Commands) removeDJ(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	return c.removeFromGroup("dj", inv.Values[0])
}

func (c *Commands) addToWhitelist(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	c.m.WhitelistMu.Lock()
	defer c.m.WhitelistMu.Unlock()
	c.m.Profile.AddToWhitelist(inv.Values[0])
	return nil
}

func (c *Commands) removeFromWhitelist(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	c.m.WhitelistMu.Lock()
	defer c.m.WhitelistMu.Unlock()
	c.m.Profile.RemoveFromWhitelist(inv.Values[0])
	return nil
}

func (c *Commands) whitelist(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardHost(); err != nil {
		return err
	}
	state := "off"
	if c.m.SwitchWhitelist() {
		state = "on"
	}
	c.m.SendMessage("Whitelist "+state, c.m.ToUser(msg))
	return nil
}

func (c *Commands) whitelistStatus(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	state := "off"
	if c.m.WhitelistEnabled() {
		state = "on"
	}
	c.m.SendMessage("Whitelist "+state, c.m.ToUser(msg))
	return nil
}

// protectedUser reports whether moderation may not touch the target.
func (c *Commands) protectedUser(u *chat.User) bool {
	return c.m.IsAdminUser(*u) || c.m.IsBotUser(*u)
}

func (c *Commands) blockCommands(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	user, err := c.m.RoomUser(inv.Values[0])
	if err != nil {
		return err
	}
	if c.protectedUser(user) {
		return nil
	}
	c.m.BlacklistMu.Lock()
	defer c.m.BlacklistMu.Unlock()
	return c.m.Profile.AddToBlacklist(user.Name, profile.BanCommands, inv.Flags["reason"])
}

func (c *Commands) kick(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardHost(); err != nil {
		return err
	}
	user, err := c.m.RoomUser(inv.Values[0])
	if err != nil {
		return err
	}
	if c.protectedUser(user) {
		return nil
	}
	if err := c.m.Chat.Kick(ctx, user.ID); err != nil {
		return err
	}
	if inv.HasFlag("block_commands") {
		c.m.BlacklistMu.Lock()
		defer c.m.BlacklistMu.Unlock()
		return c.m.Profile.AddToBlacklist(user.Name, profile.BanCommands, "")
	}
	return nil
}

func (c *Commands) ban(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardHost(); err != nil {
		return err
	}
	user, err := c.m.RoomUser(inv.Values[0])
	if err != nil {
		return err
	}
	if c.protectedUser(user) {
		return nil
	}
	if err := c.m.Chat.Ban(ctx, user.ID); err != nil {
		return err
	}
	status := profile.BanCommands
	if inv.HasFlag("permanent") {
		status = profile.BanPermanent
	}
	c.m.BlacklistMu.Lock()
	defer c.m.BlacklistMu.Unlock()
	return c.m.Profile.AddToBlacklist(user.Name, status, inv.Flags["reason"])
}

func (c *Commands) unban(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	c.m.BlacklistMu.Lock()
	defer c.m.BlacklistMu.Unlock()
	c.m.Profile.RemoveFromBlacklist(inv.Values[0], inv.HasFlag("full"))
	return nil
}

func (c *Commands) djMode(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	state := "off"
	if c.m.SwitchDJMode() {
		state = "on"
	}
	c.m.SendMessage("DJ mode "+state, nil)
	return nil
}

func (c *Commands) queue(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	page := 1
	if len(inv.Values) > 0 {
		v, err := validateIndex(inv.Values[0], 1, math.MaxInt32, "Invalid page value")
		if err != nil {
			return err
		}
		page = v
	}
	c.m.PlayerMu.Lock()
	tracks := c.m.Player.Queue()
	c.m.PlayerMu.Unlock()
	if len(tracks) == 0 {
		c.m.SendMessage("Queue is empty", c.m.ToUser(msg))
		return nil
	}
	if formatted := queueMessage(tracks, page); formatted != "" {
		c.m.SendMessage(formatted, c.m.ToUser(msg))
	} else {
		c.m.SendMessage("No tracks on that page", c.m.ToUser(msg))
	}
	return nil
}

func (c *Commands) searchResults(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	c.m.SearchMu.Lock()
	results := c.searchList
	c.m.SearchMu.Unlock()
	if len(results) == 0 {
		c.m.SendMessage("Nothing was searched yet", c.m.ToUser(msg))
		return nil
	}
	c.m.SendMessage(searchMessage(results), c.m.ToUser(msg))
	return nil
}

// addTrack applies the shared play/choose flags: force puts the track at
// the queue head and skips the current one, index inserts at a position.
func (c *Commands) addTrack(track player.Track, inv *botspec.Invocation) error {
	extendQueue := inv.HasFlag("extend_queue")
	extendDuration := inv.HasFlag("extend_duration")

	c.m.PlayerMu.Lock()
	defer c.m.PlayerMu.Unlock()
	if inv.HasFlag("force") {
		if err := c.m.Player.AddTrack(track, 0, extendQueue, extendDuration); err != nil {
			return err
		}
		c.m.Player.ResetTimestamp()
		return nil
	}
	index := -1
	if v, ok := inv.Flags["index"]; ok {
		idx, err := validateIndex(v, 1, math.MaxInt32, "Invalid index value")
		if err != nil {
			return err
		}
		index = idx
	}
	return c.m.Player.AddTrack(track, index, extendQueue, extendDuration)
}

func (c *Commands) play(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	if err := c.guardPlayer(); err != nil {
		return err
	}
	c.m.SendMessage("Extracting track...", c.m.ToUser(msg))
	track, err := c.m.Extractor.Extract(ctx, inv.Values[0])
	if err != nil {
		return err
	}
	return c.addTrack(track, inv)
}

func (c *Commands) search(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	if err := c.guardPlayer(); err != nil {
		return err
	}
	c.m.SendMessage("Searching...", c.m.ToUser(msg))
	results, err := c.m.Extractor.Search(ctx, strings.Join(inv.Values, " "))
	if err != nil {
		return err
	}
	c.m.SearchMu.Lock()
	c.searchList = results
	c.m.SearchMu.Unlock()
	if len(results) == 0 {
		c.m.SendMessage("Nothing found", c.m.ToUser(msg))
		return nil
	}
	c.m.SendMessage(searchMessage(results), c.m.ToUser(msg))
	return nil
}

func (c *Commands) choose(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	if err := c.guardPlayer(); err != nil {
		return err
	}
	number := 1
	if len(inv.Values) > 0 {
		v, err := validateIndex(inv.Values[0], 1, maxSearchPick, "Invalid number value")
		if err != nil {
			return err
		}
		number = v
	}
	c.m.SearchMu.Lock()
	if len(c.searchList) == 0 {
		c.m.SearchMu.Unlock()
		return &CommandError{Msg: "No search results"}
	}
	if number > len(c.searchList) {
		c.m.SearchMu.Unlock()
		return &CommandError{Msg: "Invalid number value"}
	}
	track := c.searchList[number-1]
	c.searchList = nil
	c.m.SearchMu.Unlock()
	return c.addTrack(track, inv)
}

func (c *Commands) repeat(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	c.m.PlayerMu.Lock()
	c.m.Player.Repeat = !c.m.Player.Repeat
	state := "off"
	if c.m.Player.Repeat {
		state = "on"
	}
	c.m.PlayerMu.Unlock()
	c.m.SendMessage("Repeat "+state, c.m.ToUser(msg))
	return nil
}

func (c *Commands) next(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	c.m.PlayerMu.Lock()
	c.m.Player.ResetTimestamp()
	c.m.PlayerMu.Unlock()
	c.m.SendMessage("Skipping current track", c.m.ToUser(msg))
	return nil
}

func (c *Commands) removeSong(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	index := 1
	if len(inv.Values) > 0 {
		v, err := validateIndex(inv.Values[0], 1, math.MaxInt32, "Invalid index value")
		if err != nil {
			return err
		}
		index = v
	}
	c.m.PlayerMu.Lock()
	_, err := c.m.Player.PopTrack(index - 1)
	c.m.PlayerMu.Unlock()
	if errors.Is(err, player.ErrEmptyQueue) {
		return &CommandError{Msg: "Queue is empty"}
	}
	if errors.Is(err, player.ErrBadIndex) {
		return &CommandError{Msg: "Invalid index value"}
	}
	if err != nil {
		return err
	}
	c.m.SendMessage("Track removed", c.m.ToUser(msg))
	return nil
}

func (c *Commands) clearQueue(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	c.m.PlayerMu.Lock()
	c.m.Player.ClearQueue()
	c.m.PlayerMu.Unlock()
	c.m.SendMessage("Queue cleared", c.m.ToUser(msg))
	return nil
}

func (c *Commands) pause(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	c.m.PlayerMu.Lock()
	c.m.Player.Paused = true
	c.m.PlayerMu.Unlock()
	c.m.SendMessage("Player paused", c.m.ToUser(msg))
	return nil
}

func (c *Commands) unpause(ctx context.Context, msg *chat.Message, inv *botspec.Invocation) error {
	if err := c.guardDJ(msg.User); err != nil {
		return err
	}
	c.m.PlayerMu.Lock()
	c.m.Player.Paused = false
	c.m.PlayerMu.Unlock()
	c.m.SendMessage("Player unpaused", c.m.ToUser(msg))
	return nil
}

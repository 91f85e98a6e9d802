package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyaf835/lamb2-dev/internal/v1/botspec"
	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
	"github.com/ilyaf835/lamb2-dev/internal/v1/profile"
)

// joinedBot is a bot with the room already applied, for driving command
// handlers directly.
func joinedBot(t *testing.T, fc *fakeChat, src TrackSource) *Bot {
	t.Helper()
	b := newTestBot(t, fc, src)
	b.m.Room.ApplyUpdate(roomUpdate("t1", botUser.ID))
	return b
}

func invocation(t *testing.T, b *Bot, name string, values []string, flags map[string]string) *botspec.Invocation {
	t.Helper()
	spec, err := b.registry.Lookup(name)
	require.NoError(t, err)
	if flags == nil {
		flags = map[string]string{}
	}
	return &botspec.Invocation{Spec: spec, Values: values, Flags: flags}
}

func publicMsg(from chat.User, text string) *chat.Message {
	m := textMessage(from, text)
	return &m
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short"))
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaa…", shorten("aaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.Equal(t, "trimmed", shorten("  trimmed  "))
}

func TestQueueMessage(t *testing.T) {
	queue := []player.Track{
		{Title: "one", OriginID: "id1"},
		{Title: "two", OriginID: "id2"},
		{Title: "three", OriginID: "id3"},
		{Title: "four", OriginID: "id4"},
	}
	page1 := queueMessage(queue, 1)
	assert.Contains(t, page1, "1. one\nyoutu.be/id1")
	assert.Contains(t, page1, "3. three")
	assert.NotContains(t, page1, "four")

	page2 := queueMessage(queue, 2)
	assert.Contains(t, page2, "4. four\nyoutu.be/id4")

	assert.Empty(t, queueMessage(queue, 5))
}

func TestValidateIndex(t *testing.T) {
	v, err := validateIndex("3", 1, 10, "Invalid index value")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	for _, bad := range []string{"x", "0", "11", ""} {
		_, err := validateIndex(bad, 1, 10, "Invalid index value")
		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr, bad)
		assert.Equal(t, "Invalid index value", cmdErr.Msg)
	}
}

func TestKick_WithBlockCommands(t *testing.T) {
	fc := &fakeChat{}
	b := joinedBot(t, fc, nil)

	inv := invocation(t, b, "kick", []string{"bob"}, map[string]string{"block_commands": ""})
	require.NoError(t, b.commands.kick(context.Background(), publicMsg(adminUser, ""), inv))

	assert.Equal(t, []string{plainUser.ID}, fc.kicked)
	entry, banned := b.m.Profile.BanStatus("bob")
	require.True(t, banned)
	assert.Equal(t, profile.BanCommands, entry.Status)
}

func TestKick_RequiresHost(t *testing.T) {
	fc := &fakeChat{}
	b := newTestBot(t, fc, nil)
	b.m.Room.ApplyUpdate(roomUpdate("t1", adminUser.ID))

	inv := invocation(t, b, "kick", []string{"bob"}, nil)
	err := b.commands.kick(context.Background(), publicMsg(adminUser, ""), inv)
	var ctxErr *ContextError
	require.ErrorAs(t, err, &ctxErr)
	assert.Empty(t, fc.kicked)
}

func TestKick_ProtectedUsers(t *testing.T) {
	fc := &fakeChat{}
	b := joinedBot(t, fc, nil)

	for _, name := range []string{adminUser.Name, botUser.Name} {
		inv := invocation(t, b, "kick", []string{name}, nil)
		require.NoError(t, b.commands.kick(context.Background(), publicMsg(adminUser, ""), inv))
	}
	assert.Empty(t, fc.kicked, "admin and bot are never kicked")
}

func TestBanAndUnban(t *testing.T) {
	fc := &fakeChat{}
	b := joinedBot(t, fc, nil)

	inv := invocation(t, b, "ban", []string{"bob"}, map[string]string{"permanent": "", "reason": "abuse"})
	require.NoError(t, b.commands.ban(context.Background(), publicMsg(adminUser, ""), inv))
	assert.Equal(t, []string{plainUser.ID}, fc.banned)

	entry, banned := b.m.Profile.BanStatus("bob")
	require.True(t, banned)
	assert.Equal(t, profile.BanPermanent, entry.Status)
	assert.Equal(t, "abuse", entry.Reason)

	// Partial unban downgrades; full unban clears.
	inv = invocation(t, b, "unban", []string{"bob"}, nil)
	require.NoError(t, b.commands.unban(context.Background(), publicMsg(adminUser, ""), inv))
	entry, banned = b.m.Profile.BanStatus("bob")
	require.True(t, banned)
	assert.Equal(t, profile.BanCommands, entry.Status)

	inv = invocation(t, b, "unban", []string{"bob"}, map[string]string{"full": ""})
	require.NoError(t, b.commands.unban(context.Background(), publicMsg(adminUser, ""), inv))
	_, banned = b.m.Profile.BanStatus("bob")
	assert.False(t, banned)
}

func TestAddModer_RequiresTripcode(t *testing.T) {
	fc := &fakeChat{}
	b := newTestBot(t, fc, nil)
	update := roomUpdate("t1", botUser.ID)
	update.Users = append(update.Users, chat.User{ID: "u-carol", Name: "carol"})
	b.m.Room.ApplyUpdate(update)

	inv := invocation(t, b, "add_moder", []string{"carol"}, nil)
	err := b.commands.addModer(context.Background(), publicMsg(adminUser, ""), inv)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)

	inv = invocation(t, b, "add_moder", []string{"bob"}, nil)
	require.NoError(t, b.commands.addModer(context.Background(), publicMsg(adminUser, ""), inv))
	assert.True(t, b.m.CheckPermit("moder", plainUser))
}

func TestGiveHost_DefaultsToAdmin(t *testing.T) {
	fc := &fakeChat{}
	b := joinedBot(t, fc, nil)

	inv := invocation(t, b, "give_host", nil, nil)
	require.NoError(t, b.commands.giveHost(context.Background(), publicMsg(adminUser, ""), inv))
	assert.Equal(t, []string{adminUser.ID}, fc.hosted)
}

func TestWhitelistToggle(t *testing.T) {
	fc := &fakeChat{}
	b := joinedBot(t, fc, nil)

	inv := invocation(t, b, "whitelist", nil, nil)
	require.NoError(t, b.commands.whitelist(context.Background(), publicMsg(adminUser, ""), inv))
	assert.True(t, b.m.WhitelistEnabled())
	require.NoError(t, b.commands.whitelist(context.Background(), publicMsg(adminUser, ""), inv))
	assert.False(t, b.m.WhitelistEnabled())
}

func TestPlay_AddsTrack(t *testing.T) {
	src := &fakeSource{track: player.Track{Title: "song", Duration: time.Minute, OriginID: "vid"}}
	fc := &fakeChat{}
	b := joinedBot(t, fc, src)

	inv := invocation(t, b, "play", []string{"https://youtu.be/vid"}, nil)
	require.NoError(t, b.commands.play(context.Background(), publicMsg(plainUser, ""), inv))
	assert.Equal(t, 1, b.m.Player.QueueLen())
}

func TestPlay_ForceSkipsCurrent(t *testing.T) {
	src := &fakeSource{track: player.Track{Title: "urgent", Duration: time.Minute}}
	fc := &fakeChat{}
	b := joinedBot(t, fc, src)

	b.m.PlayerMu.Lock()
	require.NoError(t, b.m.Player.AddTrack(player.Track{Title: "current", Duration: time.Minute}, -1, false, false))
	require.NotNil(t, b.m.Player.NextTrack())
	b.m.Player.SetTimestamp()
	require.True(t, b.m.Player.Playing())
	b.m.PlayerMu.Unlock()

	inv := invocation(t, b, "play", []string{"url"}, map[string]string{"force": ""})
	require.NoError(t, b.commands.play(context.Background(), publicMsg(adminUser, ""), inv))

	b.m.PlayerMu.Lock()
	defer b.m.PlayerMu.Unlock()
	assert.False(t, b.m.Player.Playing(), "force closes the current playing window")
	queue := b.m.Player.Queue()
	require.NotEmpty(t, queue)
	assert.Equal(t, "urgent", queue[0].Title)
}

func TestPlay_DurationLimit(t *testing.T) {
	src := &fakeSource{track: player.Track{Title: "epic", Duration: 13 * time.Minute}}
	fc := &fakeChat{}
	b := joinedBot(t, fc, src)

	inv := invocation(t, b, "play", []string{"url"}, nil)
	err := b.commands.play(context.Background(), publicMsg(plainUser, ""), inv)
	var durErr *player.TrackDurationError
	require.ErrorAs(t, err, &durErr)
	assert.True(t, renderable(err), "limit violations are chat replies, not crashes")
}

func TestPlay_DJModeGuard(t *testing.T) {
	src := &fakeSource{track: player.Track{Title: "song", Duration: time.Minute}}
	fc := &fakeChat{}
	b := joinedBot(t, fc, src)
	b.m.SwitchDJMode()

	inv := invocation(t, b, "play", []string{"url"}, nil)
	err := b.commands.play(context.Background(), publicMsg(plainUser, ""), inv)
	var ctxErr *ContextError
	require.ErrorAs(t, err, &ctxErr)

	// The admin passes the dj gate.
	require.NoError(t, b.commands.play(context.Background(), publicMsg(adminUser, ""), inv))
}

func TestSearchAndChoose(t *testing.T) {
	src := &fakeSource{results: []player.Track{
		{Title: "first", Duration: time.Minute, OriginID: "a"},
		{Title: "second", Duration: time.Minute, OriginID: "b"},
	}}
	fc := &fakeChat{}
	b := joinedBot(t, fc, src)

	inv := invocation(t, b, "search", []string{"some", "song"}, nil)
	require.NoError(t, b.commands.search(context.Background(), publicMsg(plainUser, ""), inv))

	inv = invocation(t, b, "choose", []string{"2"}, nil)
	require.NoError(t, b.commands.choose(context.Background(), publicMsg(plainUser, ""), inv))

	b.m.PlayerMu.Lock()
	queue := b.m.Player.Queue()
	b.m.PlayerMu.Unlock()
	require.Len(t, queue, 1)
	assert.Equal(t, "second", queue[0].Title)

	// The pick consumes the result list.
	err := b.commands.choose(context.Background(), publicMsg(plainUser, ""), inv)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "No search results", cmdErr.Msg)
}

func TestChoose_RejectsOutOfRange(t *testing.T) {
	src := &fakeSource{results: []player.Track{{Title: "only", Duration: time.Minute}}}
	fc := &fakeChat{}
	b := joinedBot(t, fc, src)

	inv := invocation(t, b, "search", []string{"x"}, nil)
	require.NoError(t, b.commands.search(context.Background(), publicMsg(plainUser, ""), inv))

	inv = invocation(t, b, "choose", []string{"4"}, nil)
	err := b.commands.choose(context.Background(), publicMsg(plainUser, ""), inv)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
}

func TestRemoveSong(t *testing.T) {
	fc := &fakeChat{}
	b := joinedBot(t, fc, nil)

	inv := invocation(t, b, "remove_song", nil, nil)
	err := b.commands.removeSong(context.Background(), publicMsg(adminUser, ""), inv)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Queue is empty", cmdErr.Msg)

	b.m.PlayerMu.Lock()
	require.NoError(t, b.m.Player.AddTrack(player.Track{Title: "a", Duration: time.Minute}, -1, false, false))
	b.m.PlayerMu.Unlock()

	require.NoError(t, b.commands.removeSong(context.Background(), publicMsg(adminUser, ""), inv))
	assert.Zero(t, b.m.Player.QueueLen())
}

func TestCommandTable_CoversAllHandlers(t *testing.T) {
	registry, err := botspec.NewRegistry(CommandTable(), profile.Permits)
	require.NoError(t, err)
	assert.Len(t, registry.Names(), 27)
}

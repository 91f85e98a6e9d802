package bot

import "github.com/ilyaf835/lamb2-dev/internal/v1/botspec"

// HelpMessage is the short usage text sent by the help command and the
// first-join greeting.
const HelpMessage = "-h to see this message\n" +
	"-m <youtube link> to queue song\n" +
	"-s <text> to search for song\n" +
	"-c <№> to choose song"

// CommandPrefix starts every command token in chat messages.
const CommandPrefix = "-"

func optional() *bool { return nil }

// CommandTable declares every chat command the bot understands. The handler
// for each entry lives in commands.go under the same name.
func CommandTable() []botspec.CommandSpec {
	return []botspec.CommandSpec{
		{
			Name: "help", Permit: "user", Aliases: []string{"h"},
			RequireValue: optional(), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "public", Permit: "moder", Aliases: []string{"p"}},
			},
		},
		{
			Name: "leave", Permit: "admin", Aliases: []string{"l"},
			RequireValue: botspec.Bool(false), Terminates: true,
		},
		{
			Name: "give_host", Permit: "admin", Aliases: []string{"gh"},
			RequireValue: optional(), Threaded: true,
		},
		{
			Name: "add_moder", Permit: "admin", Aliases: []string{"am"},
			RequireValue: botspec.Bool(true), Threaded: true,
		},
		{
			Name: "remove_moder", Permit: "admin", Aliases: []string{"rm"},
			RequireValue: botspec.Bool(true), Threaded: true,
		},
		{
			Name: "add_dj", Permit: "moder", Aliases: []string{"ad"},
			RequireValue: botspec.Bool(true), Threaded: true,
		},
		{
			Name: "remove_dj", Permit: "moder", Aliases: []string{"rd"},
			RequireValue: botspec.Bool(true), Threaded: true,
		},
		{
			Name: "add_to_whitelist", Permit: "moder", Aliases: []string{"aw"},
			RequireValue: botspec.Bool(true), Threaded: true,
		},
		{
			Name: "remove_from_whitelist", Permit: "moder", Aliases: []string{"rw"},
			RequireValue: botspec.Bool(true), Threaded: true,
		},
		{
			Name: "whitelist", Permit: "admin", Aliases: []string{"wl"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "whitelist_status", Permit: "moder", Aliases: []string{"wls"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "block_commands", Permit: "moder", Aliases: []string{"bc"},
			RequireValue: botspec.Bool(true), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "reason", Permit: "moder", Aliases: []string{"r"}},
			},
		},
		{
			Name: "kick", Permit: "moder", Aliases: []string{"k"},
			RequireValue: botspec.Bool(true), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "block_commands", Permit: "moder", Aliases: []string{"bc"}},
			},
		},
		{
			Name: "ban", Permit: "moder", Aliases: []string{"b"},
			RequireValue: botspec.Bool(true), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "reason", Permit: "moder", Aliases: []string{"r"}},
				{Name: "permanent", Permit: "moder", Aliases: []string{"p"}},
			},
		},
		{
			Name: "unban", Permit: "moder", Aliases: []string{"u"},
			RequireValue: botspec.Bool(true), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "full", Permit: "moder", Aliases: []string{"f"}},
			},
		},
		{
			Name: "dj_mode", Permit: "moder", Aliases: []string{"dm", "dj"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "queue", Permit: "user", Aliases: []string{"q"},
			RequireValue: optional(), Threaded: true,
		},
		{
			Name: "search_results", Permit: "user", Aliases: []string{"sr"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "play", Permit: "user", Aliases: []string{"m", "music"},
			RequireValue: botspec.Bool(true), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "force", Permit: "dj", Aliases: []string{"f"}},
				{Name: "index", Permit: "dj", Aliases: []string{"i"}},
				{Name: "extend_queue", Permit: "dj", Aliases: []string{"eq"}},
				{Name: "extend_duration", Permit: "dj", Aliases: []string{"ed"}},
			},
		},
		{
			Name: "search", Permit: "user", Aliases: []string{"s"},
			RequireValue: botspec.Bool(true), MultipleValues: true, BatchValues: true, Threaded: true,
		},
		{
			Name: "choose", Permit: "user", Aliases: []string{"c"},
			RequireValue: optional(), Threaded: true,
			Flags: []botspec.FlagSpec{
				{Name: "force", Permit: "dj", Aliases: []string{"f"}},
				{Name: "index", Permit: "dj", Aliases: []string{"i"}},
				{Name: "extend_queue", Permit: "dj", Aliases: []string{"eq"}},
				{Name: "extend_duration", Permit: "dj", Aliases: []string{"ed"}},
			},
		},
		{
			Name: "repeat", Permit: "dj", Aliases: []string{"r"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "next", Permit: "dj", Aliases: []string{"n"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "remove_song", Permit: "dj", Aliases: []string{"rs"},
			RequireValue: optional(), Threaded: true,
		},
		{
			Name: "clear_queue", Permit: "dj", Aliases: []string{"cq"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "pause", Permit: "dj", Aliases: []string{"p"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
		{
			Name: "unpause", Permit: "dj", Aliases: []string{"up"},
			RequireValue: botspec.Bool(false), Threaded: true,
		},
	}
}

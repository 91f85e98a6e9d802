package bot

import (
	"context"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
)

// ChatAPI is the slice of the chat client the bot drives. *chat.Client
// satisfies it; tests substitute fakes.
type ChatAPI interface {
	Login(ctx context.Context, name, passcode, icon string) error
	Logout(ctx context.Context) error
	Lounge(ctx context.Context) (*chat.LoungeInfo, error)
	JoinRoom(ctx context.Context, roomID string) error
	FetchUpdate(ctx context.Context, since string) (*chat.RoomUpdate, error)
	SendMessage(ctx context.Context, text, to, link string) error
	LeaveRoom(ctx context.Context) error
	GiveHost(ctx context.Context, userID string) error
	Kick(ctx context.Context, userID string) error
	Ban(ctx context.Context, userID string) error
	PlayMusic(ctx context.Context, name, streamURL string) error
}

// TrackSource resolves media URLs and search queries into playable tracks.
// The extractor RPC client implements it.
type TrackSource interface {
	Extract(ctx context.Context, url string) (player.Track, error)
	Search(ctx context.Context, query string) ([]player.Track, error)
}

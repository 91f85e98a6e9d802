// Package frontend is the public HTTP surface: bot session creation and
// teardown, the status endpoints and the WebSocket state pusher. The service
// core validates requests, proves chat identity, materializes the session
// document in Redis and hands the lifecycle command to the broker router.
package frontend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/store"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

// publisher is the slice of the broker router the service drives.
type publisher interface {
	Publish(ctx context.Context, command, sid string) error
}

// repository is the slice of the Postgres layer the service needs.
type repository interface {
	GetOrCreateUser(ctx context.Context, name, tripcode, passcode string) (types.UserInfo, error)
	GetOrCreateBot(ctx context.Context, userID int64, name string) (types.BotState, error)
}

// verifyFunc proves the requester controls the claimed chat identity.
// chat.VerifyUser in production; tests script it.
type verifyFunc func(ctx context.Context, baseURL, userName, passcode, roomID, botName string, hidden bool) (*chat.Identity, error)

// Service implements bot session creation and teardown.
type Service struct {
	store      *store.Store
	repo       repository
	router     publisher
	chatURL    string
	sessionTTL time.Duration

	verify verifyFunc
}

// NewService wires the service core. chatURL may be empty to use the
// default chat service endpoint.
func NewService(st *store.Store, repo repository, router publisher, chatURL string, sessionTTL time.Duration) *Service {
	return &Service{
		store:      st,
		repo:       repo,
		router:     router,
		chatURL:    chatURL,
		sessionTTL: sessionTTL,
		verify:     chat.VerifyUser,
	}
}

// CreateBot validates the request, verifies the requester against the chat
// service, persists the user and bot rows, materializes the session document
// under sid and publishes the create command. A failed publish removes the
// session document again.
func (s *Service) CreateBot(ctx context.Context, sid, userName, botName, roomURL string, hidden bool) error {
	exists, err := s.store.SessionExists(ctx, sid)
	if err != nil {
		return fmt.Errorf("frontend: session lookup: %w", err)
	}
	if exists {
		return types.ErrAlreadyCreated
	}

	cmd, err := validateCreate(userName, botName, roomURL, hidden)
	if err != nil {
		return err
	}

	identity, err := s.verify(ctx, s.chatURL, cmd.UserName, cmd.UserPasscode, cmd.RoomID, cmd.BotName, cmd.Hidden)
	if err != nil {
		return err
	}

	user, err := s.repo.GetOrCreateUser(ctx, cmd.UserName, identity.Tripcode, cmd.UserPasscode)
	if err != nil {
		return fmt.Errorf("frontend: persist user: %w", err)
	}
	user.FullName = cmd.FullUserName

	bot, err := s.repo.GetOrCreateBot(ctx, user.ID, cmd.BotName)
	if err != nil {
		return fmt.Errorf("frontend: persist bot: %w", err)
	}
	bot.FullName = cmd.FullBotName
	bot.Passcode = cmd.BotPasscode

	session := &types.Session{
		User:   user,
		Bot:    bot,
		Room:   types.RoomInfo{ID: cmd.RoomID, URL: cmd.RoomURL, Name: identity.RoomName},
		Hidden: cmd.Hidden,
	}
	if err := session.Validate(); err != nil {
		return err
	}
	if err := s.store.SetSession(ctx, sid, session, s.sessionTTL); err != nil {
		return fmt.Errorf("frontend: store session: %w", err)
	}

	if err := s.router.Publish(ctx, types.CommandCreate, sid); err != nil {
		if delErr := s.store.DeleteSession(ctx, sid); delErr != nil {
			logging.Warn(ctx, "session cleanup after failed publish", zap.Error(delErr))
		}
		return err
	}
	metrics.IncSession()
	return nil
}

// DeleteBot publishes the delete command for an existing session. The
// balancer owns the Redis cleanup.
func (s *Service) DeleteBot(ctx context.Context, sid string) error {
	exists, err := s.store.SessionExists(ctx, sid)
	if err != nil {
		return fmt.Errorf("frontend: session lookup: %w", err)
	}
	if !exists {
		return types.ErrNoBot
	}
	if err := s.router.Publish(ctx, types.CommandDelete, sid); err != nil {
		return err
	}
	metrics.DecSession()
	return nil
}

// BotState reads the bot sub-document of a live session. store.ErrNotFound
// means the session expired or was never created.
func (s *Service) BotState(ctx context.Context, sid string) (types.BotState, error) {
	session, err := s.store.GetSession(ctx, sid)
	if err != nil {
		return types.BotState{}, err
	}
	return session.Bot, nil
}

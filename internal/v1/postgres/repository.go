// Package postgres persists users and bot profiles. The frontend creates
// rows on session creation; the balancer writes profile snapshots back when
// bots disconnect or heartbeat.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ilyaf835/lamb2-dev/internal/v1/crypto"
	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       BIGSERIAL PRIMARY KEY,
	name     TEXT NOT NULL,
	tripcode TEXT NOT NULL,
	passcode TEXT NOT NULL,
	UNIQUE (name, tripcode)
);

CREATE TABLE IF NOT EXISTS bots (
	id        BIGSERIAL PRIMARY KEY,
	user_id   BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	name      TEXT NOT NULL,
	whitelist JSONB NOT NULL DEFAULT '{}',
	blacklist JSONB NOT NULL DEFAULT '{}',
	groups    JSONB NOT NULL DEFAULT '{}'
);
`

// Repository wraps the SQL connection pool.
type Repository struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{db: db}, nil
}

// FromDB wraps an existing pool; tests inject through here.
func FromDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// GetOrCreateUser finds a user by (name, tripcode) or inserts one with a
// freshly hashed passcode. The stored hash is never compared against later
// session creations; identity is proven against the chat service instead.
func (r *Repository) GetOrCreateUser(ctx context.Context, name, tripcode, passcode string) (types.UserInfo, error) {
	user := types.UserInfo{Name: name, Tripcode: tripcode}

	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE name = $1 AND tripcode = $2`,
		name, tripcode,
	).Scan(&user.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return user, fmt.Errorf("select user: %w", err)
	}

	hash, err := crypto.HashPasscode(passcode)
	if err != nil {
		return user, err
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO users (name, tripcode, passcode) VALUES ($1, $2, $3)
		 ON CONFLICT (name, tripcode) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name, tripcode, hash,
	).Scan(&user.ID)
	if err != nil {
		return user, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetOrCreateBot upserts the bot row of a user and returns it together with
// the stored profile snapshots.
func (r *Repository) GetOrCreateBot(ctx context.Context, userID int64, name string) (types.BotState, error) {
	bot := types.BotState{Name: name}

	var whitelist, blacklist, groups []byte
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO bots (user_id, name) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, whitelist, blacklist, groups`,
		userID, name,
	).Scan(&bot.ID, &whitelist, &blacklist, &groups)
	if err != nil {
		return bot, fmt.Errorf("upsert bot: %w", err)
	}
	bot.Whitelist = json.RawMessage(whitelist)
	bot.Blacklist = json.RawMessage(blacklist)
	bot.Groups = json.RawMessage(groups)
	return bot, nil
}

// SaveBotState writes the profile snapshots of a bot back to its row.
func (r *Repository) SaveBotState(ctx context.Context, userID int64, bot types.BotState) error {
	whitelist := normalizeJSON(bot.Whitelist)
	blacklist := normalizeJSON(bot.Blacklist)
	groups := normalizeJSON(bot.Groups)

	_, err := r.db.ExecContext(ctx,
		`UPDATE bots SET whitelist = $1, blacklist = $2, groups = $3 WHERE user_id = $4`,
		whitelist, blacklist, groups, userID,
	)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	return nil
}

func normalizeJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}

// Ping checks connectivity. Used by health checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close shuts down the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

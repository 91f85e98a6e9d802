package extractor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ilyaf835/lamb2-dev/internal/v1/bot"
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
	"github.com/ilyaf835/lamb2-dev/internal/v1/wire"
)

// Client is the bot-side handle to the extractor server: one long-lived
// connection, one in-flight request at a time. It satisfies the bot's
// track source contract.
type Client struct {
	mu    sync.Mutex
	conn  net.Conn
	codec *wire.Codec
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("extractor: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, codec: wire.NewCodec(conn)}, nil
}

// call performs one request/reply exchange. The context deadline, when set,
// bounds both the write and the read.
func (c *Client) call(ctx context.Context, verb, text string) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := c.codec.Send(&request{Verb: verb, Text: text}); err != nil {
		return nil, fmt.Errorf("extractor: send: %w", err)
	}
	var resp response
	if err := c.codec.Receive(&resp); err != nil {
		return nil, fmt.Errorf("extractor: receive: %w", err)
	}
	return &resp, nil
}

func (c *Client) Extract(ctx context.Context, url string) (player.Track, error) {
	resp, err := c.call(ctx, VerbExtract, url)
	if err != nil {
		return player.Track{}, err
	}
	if resp.Error != "" {
		return player.Track{}, &bot.ExtractionError{Msg: resp.Error}
	}
	if resp.Track == nil {
		return player.Track{}, fmt.Errorf("extractor: empty extract reply")
	}
	return *resp.Track, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]player.Track, error) {
	resp, err := c.call(ctx, VerbSearch, query)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &bot.ExtractionError{Msg: resp.Error}
	}
	return resp.Tracks, nil
}

// Shutdown asks the server to stop, then closes the connection.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	err := c.codec.Send(&request{Verb: VerbShutdown})
	c.mu.Unlock()
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

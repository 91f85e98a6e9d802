package bot

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
	"github.com/ilyaf835/lamb2-dev/internal/v1/metrics"
	"github.com/ilyaf835/lamb2-dev/internal/v1/pool"
)

// SendDelay is the minimum spacing between two outgoing chat messages.
const SendDelay = time.Second

const senderBacklog = 64

// Sender serializes outgoing messages through a single worker so replies
// leave in submission order, paced at one message per SendDelay.
type Sender struct {
	chat       ChatAPI
	translator *Translator
	limiter    *rate.Limiter
	queue      *pool.Pool
}

// NewSender builds a running sender. onError receives delivery failures;
// they never stop the queue.
func NewSender(chatAPI ChatAPI, translator *Translator, onError func(error)) *Sender {
	return &Sender{
		chat:       chatAPI,
		translator: translator,
		limiter:    rate.NewLimiter(rate.Every(SendDelay), 1),
		queue:      pool.New(1, senderBacklog, onError),
	}
}

// Send queues a message for the room. A non-nil user whispers to that user;
// url attaches a link preview.
func (s *Sender) Send(msg string, user *chat.User, url string) {
	text := s.translator.Translate(msg)
	to := ""
	if user != nil {
		to = user.ID
	}
	_ = s.queue.Submit(func() error {
		if err := s.limiter.Wait(context.Background()); err != nil {
			return err
		}
		if err := s.chat.SendMessage(context.Background(), text, to, url); err != nil {
			return err
		}
		metrics.MessagesSent.Inc()
		return nil
	})
}

// SendError renders a user-facing error into a chat reply.
func (s *Sender) SendError(err error, user *chat.User) {
	s.Send(err.Error(), user, "")
}

// Close drains the queue and stops the worker.
func (s *Sender) Close() {
	s.queue.Close()
}

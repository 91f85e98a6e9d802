package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ilyaf835/lamb2-dev/internal/v1/chat"
)

// pacedChat records every outgoing message with its delivery time.
type pacedChat struct {
	fakeChat

	mu    sync.Mutex
	times []time.Time
	texts []string
	tos   []string
}

func (p *pacedChat) SendMessage(ctx context.Context, text, to, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.times = append(p.times, time.Now())
	p.texts = append(p.texts, text)
	p.tos = append(p.tos, to)
	return nil
}

func (p *pacedChat) recorded() ([]string, []time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...), append([]time.Time(nil), p.times...)
}

func newTestSender(t *testing.T, pc *pacedChat, delay time.Duration) *Sender {
	t.Helper()
	s := NewSender(pc, NewTranslator(nil, nil, ""), func(err error) {
		t.Errorf("send failed: %v", err)
	})
	s.limiter.SetLimit(rate.Every(delay))
	t.Cleanup(s.Close)
	return s
}

func TestSender_FIFOAndPacing(t *testing.T) {
	const delay = 30 * time.Millisecond
	pc := &pacedChat{}
	s := newTestSender(t, pc, delay)

	want := make([]string, 5)
	for i := range want {
		want[i] = fmt.Sprintf("msg-%d", i)
		s.Send(want[i], nil, "")
	}

	require.Eventually(t, func() bool {
		texts, _ := pc.recorded()
		return len(texts) == len(want)
	}, 2*time.Second, 5*time.Millisecond)

	texts, times := pc.recorded()
	assert.Equal(t, want, texts, "messages leave in submission order")

	// The limiter schedules grants delay apart; the recorded wall-clock
	// stamps can land a moment after their grant, so allow timer slack.
	const slack = 5 * time.Millisecond
	for i := 1; i < len(times); i++ {
		spacing := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, spacing, delay-slack,
			"consecutive sends %d and %d must be spaced by the send delay", i-1, i)
	}
}

func TestSender_WhispersCarryTarget(t *testing.T) {
	pc := &pacedChat{}
	s := NewSender(pc, NewTranslator(nil, nil, ""), nil)
	s.limiter.SetLimit(rate.Inf)
	t.Cleanup(s.Close)

	user := chat.User{ID: "u-1", Name: "bob"}
	s.Send("psst", &user, "")

	require.Eventually(t, func() bool {
		texts, _ := pc.recorded()
		return len(texts) == 1
	}, time.Second, 5*time.Millisecond)

	pc.mu.Lock()
	defer pc.mu.Unlock()
	assert.Equal(t, []string{"u-1"}, pc.tos)
}

func TestSender_DefaultDelayIsOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, SendDelay)
}

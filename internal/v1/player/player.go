// Package player models the music queue of one bot: a bounded track list,
// the currently playing track with its monotonic playing window, repeat and
// pause state. Not synchronized; the owning bot guards it with its player
// lock.
package player

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultQueueLimit bounds the number of queued tracks.
	DefaultQueueLimit = 20
	// DefaultDurationLimit bounds a single track's length.
	DefaultDurationLimit = 12 * time.Minute
)

var (
	ErrEmptyQueue = errors.New("player: queue is empty")
	ErrBadIndex   = errors.New("player: no track at that index")
)

// TrackDurationError rejects tracks longer than the limit.
type TrackDurationError struct {
	Limit time.Duration
}

func (e *TrackDurationError) Error() string {
	return fmt.Sprintf("Track duration exceeds the limit of %d minutes", int(e.Limit.Minutes()))
}

// QueueLimitError rejects additions to a full queue.
type QueueLimitError struct {
	Limit int
}

func (e *QueueLimitError) Error() string {
	return fmt.Sprintf("Queue limit of %d tracks reached", e.Limit)
}

// Track is a playable media item resolved by the extractor.
type Track struct {
	Title     string        `json:"title" msgpack:"title"`
	Duration  time.Duration `json:"duration" msgpack:"duration"`
	OriginID  string        `json:"origin_id" msgpack:"origin_id"`
	OriginURL string        `json:"origin_url" msgpack:"origin_url"`
	StreamURL string        `json:"stream_url" msgpack:"stream_url"`
}

// Player is the queue plus playback state.
type Player struct {
	QueueLimit    int
	DurationLimit time.Duration

	queue   []Track
	current *Track
	started time.Time
	Repeat  bool
	Paused  bool

	now func() time.Time
}

func New() *Player {
	return &Player{
		QueueLimit:    DefaultQueueLimit,
		DurationLimit: DefaultDurationLimit,
		now:           time.Now,
	}
}

// AddTrack queues a track. index < 0 appends; extendQueue and
// extendDuration lift the respective limits for this call.
func (p *Player) AddTrack(track Track, index int, extendQueue, extendDuration bool) error {
	if !extendDuration && track.Duration > p.DurationLimit {
		return &TrackDurationError{Limit: p.DurationLimit}
	}
	if !extendQueue && len(p.queue) >= p.QueueLimit {
		return &QueueLimitError{Limit: p.QueueLimit}
	}
	if index < 0 || index >= len(p.queue) {
		p.queue = append(p.queue, track)
		return nil
	}
	p.queue = append(p.queue, Track{})
	copy(p.queue[index+1:], p.queue[index:])
	p.queue[index] = track
	return nil
}

// PopTrack removes and returns the track at index.
func (p *Player) PopTrack(index int) (Track, error) {
	if len(p.queue) == 0 {
		return Track{}, ErrEmptyQueue
	}
	if index < 0 || index >= len(p.queue) {
		return Track{}, ErrBadIndex
	}
	track := p.queue[index]
	p.queue = append(p.queue[:index], p.queue[index+1:]...)
	return track, nil
}

// NextTrack selects what to play next: the current track again under
// repeat, otherwise the queue head. Returns nil when nothing is left; the
// current track is cleared in that case.
func (p *Player) NextTrack() *Track {
	if p.Repeat && p.current != nil {
		return p.current
	}
	if len(p.queue) == 0 {
		p.current = nil
		return nil
	}
	track := p.queue[0]
	p.queue = p.queue[1:]
	p.current = &track
	return p.current
}

// Queue returns a copy of the queued tracks.
func (p *Player) Queue() []Track {
	out := make([]Track, len(p.queue))
	copy(out, p.queue)
	return out
}

// QueueLen reports the number of queued tracks.
func (p *Player) QueueLen() int { return len(p.queue) }

// ClearQueue drops all queued tracks.
func (p *Player) ClearQueue() { p.queue = nil }

// Current returns the currently selected track, or nil.
func (p *Player) Current() *Track { return p.current }

// Playing reports whether the current track's playing window is still open.
func (p *Player) Playing() bool {
	if p.current == nil || p.started.IsZero() {
		return false
	}
	return p.now().Before(p.started.Add(p.current.Duration))
}

// SetTimestamp opens the playing window now.
func (p *Player) SetTimestamp() { p.started = p.now() }

// ResetTimestamp closes the playing window, skipping the rest of the
// current track.
func (p *Player) ResetTimestamp() { p.started = time.Time{} }

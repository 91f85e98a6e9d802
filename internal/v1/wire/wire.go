// Package wire implements the control-plane framing shared by the balancer,
// its workers and the extractor subprocesses: an 8-byte big-endian length
// prefix followed by a msgpack payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

const headerSize = 8

// MaxFrameSize bounds a single frame. Control frames carry session documents
// and extractor metadata, never media.
const MaxFrameSize = 16 << 20

var (
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("wire: empty frame")
)

// Command is sent balancer -> worker to start or stop a bot.
type Command struct {
	Cmd     string         `msgpack:"cmd"`
	SID     string         `msgpack:"sid"`
	Session *types.Session `msgpack:"session,omitempty"`
}

// Signal is sent worker -> balancer to report a lifecycle transition. The
// session snapshot rides along so the balancer can persist it without a
// read-back.
type Signal struct {
	Name    string         `msgpack:"name"`
	SID     string         `msgpack:"sid"`
	Session *types.Session `msgpack:"session,omitempty"`
	Error   string         `msgpack:"error,omitempty"`
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint64(header[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// Codec frames msgpack messages over a stream. Writes are serialized so
// multiple goroutines can send on one connection; reads are left to a single
// owner.
type Codec struct {
	rw  io.ReadWriter
	wmu sync.Mutex
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// Send marshals v and writes it as one frame.
func (c *Codec) Send(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.rw, payload)
}

// Receive reads one frame and unmarshals it into v.
func (c *Codec) Receive(v any) error {
	payload, err := ReadFrame(c.rw)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

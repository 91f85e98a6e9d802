package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	// Header is exactly 8 big-endian bytes.
	assert.Equal(t, uint64(5), binary.BigEndian.Uint64(buf.Bytes()[:8]))

	payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, nil), ErrEmptyFrame)

	// Oversized declared length must be rejected before allocation.
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	binary.BigEndian.PutUint64(header[:], 0)
	_, err = ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestFrameShortRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCodecCommandSignal(t *testing.T) {
	var buf bytes.Buffer
	codec := NewCodec(&buf)

	session := &types.Session{
		User: types.UserInfo{Name: "host", Tripcode: "trip"},
		Bot:  types.BotState{Name: "lamb", FullName: "lamb#secret1"},
		Room: types.RoomInfo{ID: "0123456789"},
	}
	require.NoError(t, codec.Send(&Command{Cmd: types.CommandCreate, SID: "sid-1", Session: session}))

	var cmd Command
	require.NoError(t, codec.Receive(&cmd))
	assert.Equal(t, types.CommandCreate, cmd.Cmd)
	assert.Equal(t, "sid-1", cmd.SID)
	require.NotNil(t, cmd.Session)
	assert.Equal(t, "lamb", cmd.Session.Bot.Name)

	require.NoError(t, codec.Send(&Signal{Name: types.SignalFailed, SID: "sid-1", Error: string(types.ErrNoBot)}))
	var sig Signal
	require.NoError(t, codec.Receive(&sig))
	assert.Equal(t, types.SignalFailed, sig.Name)
	assert.Equal(t, "NO_BOT", sig.Error)
	assert.Nil(t, sig.Session)
}

func TestCodecConcurrentWriters(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	out := NewCodec(client)
	in := NewCodec(server)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, out.Send(&Signal{Name: types.SignalUpdate, SID: "sid"}))
		}()
	}

	// Interleaved writes must still arrive as whole frames.
	for i := 0; i < n; i++ {
		var sig Signal
		require.NoError(t, in.Receive(&sig))
		assert.Equal(t, types.SignalUpdate, sig.Name)
	}
	wg.Wait()
}

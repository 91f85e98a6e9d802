package balancer

import (
	"container/heap"
	"net"
	"os"
	"os/exec"

	"github.com/ilyaf835/lamb2-dev/internal/v1/types"
	"github.com/ilyaf835/lamb2-dev/internal/v1/wire"
)

// workerEntry is one worker process seen from the balancer: its control
// connection and how many bots it currently runs. The running count is
// maintained optimistically at command-send time, mirrored by the failed
// and disconnected signals.
type workerEntry struct {
	conn  net.Conn
	codec *wire.Codec
	proc  *exec.Cmd

	running int
}

func (w *workerEntry) sendCreate(sid string, session *types.Session) error {
	w.running++
	return w.codec.Send(&wire.Command{Cmd: types.CommandCreate, SID: sid, Session: session})
}

func (w *workerEntry) sendDelete(sid string) error {
	w.running--
	return w.codec.Send(&wire.Command{Cmd: types.CommandDelete, SID: sid})
}

func (w *workerEntry) sendStop() error {
	w.running = 0
	return w.codec.Send(&wire.Command{Cmd: "stop"})
}

// workerHeap orders workers by running instances so create commands land on
// the least-loaded one. It is re-heapified before each assignment because
// counts change outside heap operations.
type workerHeap []*workerEntry

func (h workerHeap) Len() int           { return len(h) }
func (h workerHeap) Less(i, j int) bool { return h[i].running < h[j].running }
func (h workerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *workerHeap) Push(x any)        { *h = append(*h, x.(*workerEntry)) }
func (h *workerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// leastLoaded reforms the heap and returns the emptiest worker.
func leastLoaded(workers workerHeap) *workerEntry {
	heap.Init(&workers)
	return workers[0]
}

// spawnWorker launches one worker subprocess pointed at the control
// listener and the extractor, then waits for it to dial in.
func spawnWorker(ln net.Listener, bin, extractorAddr string) (*workerEntry, error) {
	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"CONTROL_ADDR="+ln.Addr().String(),
		"EXTRACTOR_ADDR="+extractorAddr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	conn, err := ln.Accept()
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return &workerEntry{conn: conn, codec: wire.NewCodec(conn), proc: cmd}, nil
}

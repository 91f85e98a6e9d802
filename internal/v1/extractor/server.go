package extractor

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
	"github.com/ilyaf835/lamb2-dev/internal/v1/pool"
	"github.com/ilyaf835/lamb2-dev/internal/v1/wire"
)

// Server answers extract/search RPCs from bot clients. Requests borrow an
// extractor from a fixed pool, so at most len(extractors) lookups run at
// once; excess requests queue on the worker pool.
type Server struct {
	extractors chan Extractor
	workers    *pool.Pool

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

func NewServer(extractors []Extractor) (*Server, error) {
	if len(extractors) == 0 {
		return nil, fmt.Errorf("extractor: server needs at least one extractor")
	}
	s := &Server{
		extractors: make(chan Extractor, len(extractors)),
		conns:      make(map[net.Conn]struct{}),
	}
	for _, e := range extractors {
		s.extractors <- e
	}
	s.workers = pool.New(len(extractors), len(extractors)*4, func(err error) {
		logging.Warn(context.Background(), "extractor request failed", zap.Error(err))
	})
	return s, nil
}

// Serve accepts connections until Shutdown closes the listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("extractor: accept: %w", err)
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Addr returns the bound listener address, valid once Serve has been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	codec := wire.NewCodec(conn)
	for {
		var req request
		if err := codec.Receive(&req); err != nil {
			return
		}
		switch req.Verb {
		case VerbShutdown:
			s.Shutdown()
			return
		case VerbExtract, VerbSearch:
			r := req
			_ = s.workers.Submit(func() error {
				return s.execute(codec, r)
			})
		default:
			_ = codec.Send(&response{Error: fmt.Sprintf("unknown verb %q", req.Verb)})
		}
	}
}

// execute borrows an extractor, performs the lookup and writes the reply.
// Known failure kinds travel as the error string; the client re-raises them.
func (s *Server) execute(codec *wire.Codec, req request) error {
	ext := <-s.extractors
	defer func() { s.extractors <- ext }()

	var resp response
	switch req.Verb {
	case VerbExtract:
		track, err := ext.Extract(req.Text)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Track = &track
		}
	case VerbSearch:
		tracks, err := ext.Search(req.Text)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Tracks = tracks
		}
	}
	return codec.Send(&resp)
}

// Shutdown closes the listener and every open connection, then drains the
// worker pool. Safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.workers.Close()
}

/*
 * backend/ingest/server.go
 *
 * TCP listener for the binary producer protocol. Each accepted connection
 * gets its own session goroutine.
 */

package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Logger is implemented by the application's logging facade.
type Logger interface {
	Debug(message string, source ...string)
	Info(message string, source ...string)
	Warn(message string, source ...string)
	Error(message string, source ...string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...string) {}
func (noopLogger) Info(string, ...string)  {}
func (noopLogger) Warn(string, ...string)  {}
func (noopLogger) Error(string, ...string) {}

// Server accepts producer connections on a TCP address.
type Server struct {
	addr   string
	sink   Sink
	logger Logger
	authFn func() (string, bool)

	mu       sync.Mutex
	listener net.Listener
	sessions sync.WaitGroup
}

// NewServer builds a server. authFn is consulted per connection so that a
// settings reload applies to producers connecting afterwards.
func NewServer(addr string, sink Sink, logger Logger, authFn func() (string, bool)) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	if authFn == nil {
		authFn = func() (string, bool) { return "", false }
	}
	return &Server{addr: addr, sink: sink, logger: logger, authFn: authFn}
}

// Addr returns the bound listen address, valid after Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens and accepts until the context is cancelled. It returns once
// the listener is closed and all sessions have finished.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ingest listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("ingest listening on %s", listener.Addr()), "Ingest")

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn(fmt.Sprintf("ingest accept: %v", err), "Ingest")
			continue
		}
		sess := newSession(conn, s.sink, s.logger, s.authFn)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			sess.run()
		}()
	}

	s.sessions.Wait()
	return nil
}
